package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/care/posetrack/internal/types"
)

var (
	ErrMalformed      = errors.New("transport: malformed message")
	ErrUnknownCommand = errors.New("transport: unknown command")
)

// Control commands
const (
	CommandOpen  = "open"
	CommandClose = "close"
)

// FrameMessage is the inbound JSON body of a frames topic
type FrameMessage struct {
	Image     string `json:"image"`
	ImageB64  string `json:"image_b64"`
	Timestamp string `json:"timestamp,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// ControlMessage is the inbound JSON body of a control topic
type ControlMessage struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// ParseFrameMessage turns a frames payload into a session frame. The image
// is left encoded; the session decodes it. A missing or unparseable
// timestamp falls back to received.
func ParseFrameMessage(payload []byte, received time.Time) (types.Frame, error) {
	var msg FrameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	image := msg.Image
	if image == "" {
		image = msg.ImageB64
	}
	if image == "" {
		return types.Frame{}, fmt.Errorf("%w: missing image field", ErrMalformed)
	}

	ts := received
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = parsed
		}
	}

	traceID := msg.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	return types.Frame{
		Timestamp: ts,
		Payload:   image,
		TraceID:   traceID,
	}, nil
}

// ParseControlMessage decodes a control payload
func ParseControlMessage(payload []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Command {
	case CommandOpen, CommandClose:
		return msg, nil
	default:
		return ControlMessage{}, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}
}
