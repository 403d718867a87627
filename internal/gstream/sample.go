package gstream

import (
	"errors"
	"fmt"
	"image"
	"regexp"
	"strconv"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/posetrack/internal/decode"
)

var ErrNoSample = errors.New("gstream: no sample available")

var framerateRe = regexp.MustCompile(`framerate=(?:\(fraction\))?(\d+)/(\d+)`)

// RGBCaps builds raw RGB caps. Zero dimensions or fps are left unconstrained.
// Fractional rates below 1 fps become 1/N.
func RGBCaps(width, height int, fps float64) string {
	caps := "video/x-raw,format=RGB"
	if width > 0 && height > 0 {
		caps += fmt.Sprintf(",width=%d,height=%d", width, height)
	}
	switch {
	case fps <= 0:
	case fps < 1:
		caps += fmt.Sprintf(",framerate=1/%d", int(1/fps))
	default:
		caps += fmt.Sprintf(",framerate=%d/1", int(fps))
	}
	return caps
}

// ParseFramerate extracts the framerate from a caps string.
// Returns 0 when absent or variable (0/1).
func ParseFramerate(caps string) float64 {
	m := framerateRe.FindStringSubmatch(caps)
	if m == nil {
		return 0
	}
	num, err1 := strconv.Atoi(m[1])
	den, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Sample is one decoded RGB frame pulled from an appsink
type Sample struct {
	Image image.Image
	Bytes int
	Caps  string
}

// PullRGB pulls the next sample from sink and copies it into an image.
// Blocks until a sample arrives; returns ErrNoSample at EOS or shutdown.
func PullRGB(sink *app.Sink) (*Sample, error) {
	sample := sink.PullSample()
	if sample == nil {
		return nil, ErrNoSample
	}

	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return nil, fmt.Errorf("gstream: sample without caps")
	}
	structure := caps.GetStructureAt(0)
	width, err := intField(structure, "width")
	if err != nil {
		return nil, err
	}
	height, err := intField(structure, "height")
	if err != nil {
		return nil, err
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("gstream: sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, fmt.Errorf("gstream: empty buffer")
	}
	pixels, err := PackRGB(data, width, height)
	buffer.Unmap()
	if err != nil {
		return nil, err
	}

	img, err := decode.RGB(pixels, width, height)
	if err != nil {
		return nil, err
	}
	return &Sample{Image: img, Bytes: len(data), Caps: caps.String()}, nil
}

// PackRGB copies RGB rows into a tightly packed buffer. GStreamer pads each
// row to a multiple of 4 bytes; the stride is derived from the buffer size.
func PackRGB(data []byte, width, height int) ([]byte, error) {
	row := width * 3
	if width <= 0 || height <= 0 || len(data) < row*height {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d RGB", decode.ErrInvalidImage, len(data), width, height)
	}

	stride := len(data) / height
	out := make([]byte, row*height)
	if stride == row {
		copy(out, data)
		return out, nil
	}
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, nil
}

func intField(s *gst.Structure, name string) (int, error) {
	v, err := s.GetValue(name)
	if err != nil {
		return 0, fmt.Errorf("gstream: caps missing %s: %w", name, err)
	}
	n, ok := v.(int)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("gstream: caps %s is %v", name, v)
	}
	return n, nil
}
