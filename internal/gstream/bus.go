package gstream

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

var ErrEOS = errors.New("gstream: end of stream")

// PipelineError is an error message posted on a pipeline bus
type PipelineError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

func newPipelineError(gerr *gst.GError) *PipelineError {
	if gerr == nil {
		return &PipelineError{Category: ErrCategoryUnknown, Message: "unknown error"}
	}
	return &PipelineError{
		Category: Classify(gerr),
		Message:  gerr.Error(),
		Debug:    gerr.DebugString(),
	}
}

// WaitState polls the bus until the pipeline reaches state, posts an error
// or EOS, or timeout elapses.
func WaitState(pipeline *gst.Pipeline, state gst.State, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return newPipelineError(msg.ParseError())

		case gst.MessageEOS:
			return ErrEOS

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("gstream: pipeline state changed", "from", old, "to", next)
				if next == state {
					return nil
				}
			}
		}
	}

	return fmt.Errorf("gstream: timeout after %v waiting for state %v", timeout, state)
}

// PendingError drains queued bus messages and returns the first error or
// EOS found. Returns nil when the bus is empty.
func PendingError(pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageError:
			return newPipelineError(msg.ParseError())
		case gst.MessageEOS:
			return ErrEOS
		}
	}
}
