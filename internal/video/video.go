// Package video reads stored videos frame by frame for batch processing.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/care/posetrack/internal/types"
)

var (
	// ErrOpen wraps every failure to open a source
	ErrOpen = errors.New("video: cannot open source")
	// ErrFrame marks a failure limited to one frame; reading may continue
	ErrFrame = errors.New("video: frame unreadable")
)

// Reader yields the frames of one source in order. Next returns io.EOF
// after the last frame.
type Reader interface {
	// TotalFrames is the expected frame count, 0 when unknown
	TotalFrames() int
	Next(ctx context.Context) (types.Frame, error)
	Close() error
}

// Opener opens a source by name
type Opener func(ctx context.Context, source string) (Reader, error)

// Open picks the image directory reader for directories and the
// GStreamer file reader otherwise.
func Open(ctx context.Context, source string) (Reader, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	if info.IsDir() {
		r, err := OpenImages(source)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	r, err := OpenFile(ctx, source)
	if err != nil {
		return nil, err
	}
	return r, nil
}
