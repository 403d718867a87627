package video

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/care/posetrack/internal/decode"
	"github.com/care/posetrack/internal/types"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ImageReader reads a directory of stills in lexical file name order
type ImageReader struct {
	dir   string
	files []string
	next  int
	start time.Time
}

// OpenImages lists the images in dir. A directory without images is an
// open error.
func OpenImages(dir string) (*ImageReader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrOpen, dir)
	}
	sort.Strings(files)

	return &ImageReader{dir: dir, files: files, start: time.Now()}, nil
}

// TotalFrames returns the number of images found
func (r *ImageReader) TotalFrames() int {
	return len(r.files)
}

// Next decodes the next image. An undecodable file is reported with
// ErrFrame and skipped.
func (r *ImageReader) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if r.next >= len(r.files) {
		return types.Frame{}, io.EOF
	}

	index := r.next
	name := r.files[index]
	r.next++

	raw, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return types.Frame{Index: index}, fmt.Errorf("%w: %s: %v", ErrFrame, name, err)
	}
	img, err := decode.Bytes(raw)
	if err != nil {
		return types.Frame{Index: index}, fmt.Errorf("%w: %s: %v", ErrFrame, name, err)
	}

	return types.Frame{
		Index:     index,
		Timestamp: time.Now(),
		Image:     img,
		TraceID:   uuid.New().String(),
	}, nil
}

// Close is a no-op
func (r *ImageReader) Close() error {
	return nil
}
