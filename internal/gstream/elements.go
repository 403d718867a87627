package gstream

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Element describes one pipeline element: its factory name and properties
type Element struct {
	Factory string
	Props   map[string]any
}

// NewElements creates the described elements in order. A missing factory
// usually means a GStreamer plugin is not installed.
func NewElements(specs ...Element) ([]*gst.Element, error) {
	gst.Init(nil)

	out := make([]*gst.Element, 0, len(specs))
	for _, spec := range specs {
		el, err := gst.NewElement(spec.Factory)
		if err != nil {
			return nil, fmt.Errorf("gstream: cannot create %s (plugin missing?): %w", spec.Factory, err)
		}
		for name, value := range spec.Props {
			if err := el.SetProperty(name, value); err != nil {
				return nil, fmt.Errorf("gstream: %s.%s: %w", spec.Factory, name, err)
			}
		}
		out = append(out, el)
	}
	return out, nil
}

// NewRGBSink creates an appsink that does not sync to the clock
func NewRGBSink(maxBuffers int, drop bool) (*app.Sink, error) {
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstream: cannot create appsink: %w", err)
	}
	for name, value := range map[string]any{
		"sync":        false,
		"max-buffers": maxBuffers,
		"drop":        drop,
	} {
		if err := sink.SetProperty(name, value); err != nil {
			return nil, fmt.Errorf("gstream: appsink.%s: %w", name, err)
		}
	}
	return sink, nil
}

// Assemble puts the elements in a new pipeline and links the chain. The
// first element of chain may be left out of the link (dynamic pads) by
// passing it in loose instead.
func Assemble(loose []*gst.Element, chain ...*gst.Element) (*gst.Pipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstream: cannot create pipeline: %w", err)
	}
	all := append(append([]*gst.Element{}, loose...), chain...)
	if err := pipeline.AddMany(all...); err != nil {
		return nil, fmt.Errorf("gstream: cannot add elements: %w", err)
	}
	if len(chain) > 1 {
		if err := gst.ElementLinkMany(chain...); err != nil {
			return nil, fmt.Errorf("gstream: cannot link elements: %w", err)
		}
	}
	return pipeline, nil
}

// LinkDynamic links a pad that appeared at runtime to the sink pad of
// target. A target already linked is left alone.
func LinkDynamic(src *gst.Pad, target *gst.Element) {
	sinkPad := target.GetStaticPad("sink")
	if sinkPad == nil || sinkPad.IsLinked() {
		return
	}
	if ret := src.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gstream: dynamic pad link failed",
			"src_pad", src.GetName(),
			"target", target.GetName(),
			"ret", ret,
		)
		return
	}
	slog.Debug("gstream: dynamic pad linked", "src_pad", src.GetName(), "target", target.GetName())
}
