package types

import (
	"image"
	"time"
)

// Frame is one unit of input handed to a session or the batch pipeline.
// Exactly one of Image or Payload is set: live and file sources deliver a
// decoded raster, transport sources deliver the encoded payload as received.
type Frame struct {
	// Index is the position of the frame in its source (0-based)
	Index int
	// Timestamp is when the frame was captured/received
	Timestamp time.Time
	// Image is the decoded raster (nil when Payload is set)
	Image image.Image
	// Payload is an encoded image (base64 or data URL) still to be decoded
	Payload string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// StreamStats contains live source statistics
type StreamStats struct {
	FrameCount    uint64  `json:"frame_count"`
	FramesDropped uint64  `json:"frames_dropped"`
	FPSTarget     float64 `json:"fps_target"`
	Resolution    string  `json:"resolution"`
	Reconnects    uint32  `json:"reconnects"`
	BytesRead     uint64  `json:"bytes_read"`
	IsConnected   bool    `json:"is_connected"`
	ErrorsNetwork uint64  `json:"errors_network"`
	ErrorsCodec   uint64  `json:"errors_codec"`
	ErrorsAuth    uint64  `json:"errors_auth"`
	ErrorsUnknown uint64  `json:"errors_unknown"`
}
