package camera

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/posetrack/internal/gstream"
)

const rtspProtocolTCP = 4

// pipelineElements keeps the elements needed after construction
type pipelineElements struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
}

// rtspLatency keeps the jitter buffer short at low frame rates, where one
// frame already spans hundreds of milliseconds
func rtspLatency(fps float64) int {
	if fps <= 2.0 {
		return 50
	}
	return 200
}

// createPipeline builds, but does not start:
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	videorate → capsfilter(RGB) → appsink
//
// The appsink keeps only the newest frame; live frames that arrive while a
// session is busy are dropped there.
func createPipeline(cfg Config) (*pipelineElements, error) {
	elems, err := gstream.NewElements(
		gstream.Element{Factory: "rtspsrc", Props: map[string]any{
			"location":  cfg.URL,
			"protocols": rtspProtocolTCP,
			"latency":   rtspLatency(cfg.FPS),
		}},
		gstream.Element{Factory: "rtph264depay", Props: map[string]any{"request-keyframe": true}},
		gstream.Element{Factory: "avdec_h264", Props: map[string]any{
			"max-threads":    0,
			"output-corrupt": false,
		}},
		gstream.Element{Factory: "videoconvert"},
		gstream.Element{Factory: "videoscale"},
		gstream.Element{Factory: "videorate", Props: map[string]any{
			"drop-only":     true,
			"skip-to-first": true,
		}},
		gstream.Element{Factory: "capsfilter", Props: map[string]any{
			"caps": gst.NewCapsFromString(gstream.RGBCaps(cfg.Width, cfg.Height, cfg.FPS)),
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	sink, err := gstream.NewRGBSink(1, true)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	src, depay := elems[0], elems[1]
	chain := append(elems[1:], sink.Element)

	pipeline, err := gstream.Assemble([]*gst.Element{src}, chain...)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	// rtspsrc pads appear once the stream is described
	src.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		gstream.LinkDynamic(pad, depay)
	})

	return &pipelineElements{pipeline: pipeline, appsink: sink}, nil
}

// destroyPipeline stops the pipeline and releases its resources
func destroyPipeline(e *pipelineElements) error {
	if e == nil || e.pipeline == nil {
		return nil
	}
	if err := e.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("camera: pipeline did not reach NULL: %w", err)
	}
	return nil
}
