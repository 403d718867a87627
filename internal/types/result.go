package types

import (
	"encoding/json"
	"time"
)

// ClassificationResult is the output of one classifier invocation
type ClassificationResult struct {
	// Label is the class with the highest probability
	Label string `json:"label"`
	// Confidence is the probability of Label
	Confidence float64 `json:"confidence"`
	// Distribution holds the raw per-class probabilities, aligned with the label set
	Distribution []float64 `json:"distribution"`
	// Degraded is true when no model produced this result
	Degraded bool `json:"degraded"`
}

// EventKind identifies what a session event reports
type EventKind string

const (
	EventOpened         EventKind = "opened"
	EventResult         EventKind = "result"
	EventBuffering      EventKind = "buffering"
	EventNoDetection    EventKind = "no_detection"
	EventDecodeError    EventKind = "decode_error"
	EventInferenceError EventKind = "inference_error"
	EventRejected       EventKind = "rejected"
	EventClosed         EventKind = "closed"
)

// Event is emitted by a session for every frame it admits and for its
// lifecycle transitions.
type Event struct {
	SessionID string                `json:"session_id"`
	Seq       uint64                `json:"seq"`
	Kind      EventKind             `json:"kind"`
	Result    *ClassificationResult `json:"result,omitempty"`
	Keypoints KeypointSet           `json:"keypoints,omitempty"`
	Buffered  int                   `json:"buffered,omitempty"`
	Error     string                `json:"error,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	Degraded  bool                  `json:"degraded,omitempty"`
	TraceID   string                `json:"trace_id,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FrameResult is the classification of one processed video frame together
// with the pose it was derived from
type FrameResult struct {
	FrameIndex int `json:"frame_index"`
	ClassificationResult
	Keypoints KeypointSet `json:"keypoints,omitempty"`
}

// BatchSummary aggregates per-frame results of one video
type BatchSummary struct {
	// Counts maps label to number of frames classified with it. Every label
	// of the active set is present, with zero when it never occurred.
	Counts map[string]int `json:"counts"`
	// Total is the number of frame results
	Total int `json:"total"`
	// NoDetection counts processed frames where no pose was found
	NoDetection int `json:"no_detection"`
	// Failed counts frames that could not be read or classified
	Failed int `json:"failed"`
}

// BatchReport is the outcome of processing one stored video
type BatchReport struct {
	Source      string                `json:"source"`
	TotalFrames int                   `json:"total_frames"`
	Processed   int                   `json:"processed"`
	Stride      int                   `json:"stride"`
	Results     []FrameResult         `json:"results"`
	Summary     BatchSummary          `json:"summary"`
	Overall     *ClassificationResult `json:"overall,omitempty"`
	Degraded    bool                  `json:"degraded"`
	Duration    time.Duration         `json:"duration_ns"`
}
