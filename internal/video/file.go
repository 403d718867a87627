package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/posetrack/internal/gstream"
	"github.com/care/posetrack/internal/types"
)

const prerollTimeout = 10 * time.Second

// FileReader decodes a stored video through GStreamer:
//
//	filesrc → decodebin → videoconvert → capsfilter(RGB) → appsink
//
// The appsink never drops; frames are pulled one at a time so decoding
// proceeds at the pace of the consumer.
type FileReader struct {
	path     string
	pipeline *gst.Pipeline
	sink     *app.Sink
	total    int
	fps      float64
	next     int

	closeOnce sync.Once
}

// OpenFile builds and prerolls the pipeline for path. A missing file, an
// unknown container or a file without a video stream fails with ErrOpen.
func OpenFile(ctx context.Context, path string) (*FileReader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	elems, err := gstream.NewElements(
		gstream.Element{Factory: "filesrc", Props: map[string]any{"location": path}},
		gstream.Element{Factory: "decodebin"},
		gstream.Element{Factory: "videoconvert"},
		gstream.Element{Factory: "capsfilter", Props: map[string]any{
			"caps": gst.NewCapsFromString(gstream.RGBCaps(0, 0, 0)),
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	filesrc, decodebin, converter := elems[0], elems[1], elems[2]

	// Every decoded frame is kept: batch results depend on frame indices
	sink, err := gstream.NewRGBSink(4, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	pipeline, err := gstream.Assemble([]*gst.Element{filesrc, decodebin}, converter, elems[3], sink.Element)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	if err := filesrc.Link(decodebin); err != nil {
		return nil, fmt.Errorf("%w: cannot link filesrc: %v", ErrOpen, err)
	}

	// decodebin exposes one pad per decoded stream; only the first video
	// stream is linked.
	decodebin.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		caps := pad.GetCurrentCaps()
		if caps == nil || !strings.HasPrefix(caps.String(), "video/") {
			return
		}
		gstream.LinkDynamic(pad, converter)
	})

	r := &FileReader{path: path, pipeline: pipeline, sink: sink}

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		r.Close()
		return nil, fmt.Errorf("%w: failed to preroll: %v", ErrOpen, err)
	}
	if err := gstream.WaitState(pipeline, gst.StatePaused, prerollTimeout); err != nil {
		r.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	r.probe()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		r.Close()
		return nil, fmt.Errorf("%w: failed to start pipeline: %v", ErrOpen, err)
	}

	slog.Info("video: file opened",
		"path", path,
		"total_frames", r.total,
		"fps", r.fps,
	)

	return r, nil
}

// probe reads framerate and duration once the pipeline is prerolled
func (r *FileReader) probe() {
	pad := r.sink.GetStaticPad("sink")
	if pad == nil {
		return
	}
	if caps := pad.GetCurrentCaps(); caps != nil {
		r.fps = gstream.ParseFramerate(caps.String())
	}

	ok, duration := r.pipeline.QueryDuration(gst.FormatTime)
	if ok && duration > 0 && r.fps > 0 {
		r.total = int(time.Duration(duration).Seconds()*r.fps + 0.5)
	}
}

// TotalFrames returns duration × framerate, or 0 when either is unknown
func (r *FileReader) TotalFrames() int {
	return r.total
}

// Next pulls the next decoded frame. Returns io.EOF at end of stream.
func (r *FileReader) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	index := r.next
	sample, err := gstream.PullRGB(r.sink)
	if errors.Is(err, gstream.ErrNoSample) {
		if r.sink.IsEOS() {
			return types.Frame{}, io.EOF
		}
		if busErr := gstream.PendingError(r.pipeline); busErr != nil {
			if errors.Is(busErr, gstream.ErrEOS) {
				return types.Frame{}, io.EOF
			}
			return types.Frame{}, fmt.Errorf("video: %s: %w", r.path, busErr)
		}
		return types.Frame{}, io.EOF
	}
	r.next++
	if err != nil {
		return types.Frame{Index: index}, fmt.Errorf("%w: frame %d: %v", ErrFrame, index, err)
	}

	return types.Frame{
		Index:     index,
		Timestamp: time.Now(),
		Image:     sample.Image,
		TraceID:   uuid.New().String(),
	}, nil
}

// Close stops the pipeline and releases its resources
func (r *FileReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if serr := r.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("failed to set pipeline to NULL: %w", serr)
		}
	})
	return err
}
