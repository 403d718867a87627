// Package keypoint turns camera frames into normalized body-joint sets.
package keypoint

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/care/posetrack/internal/runner"
	"github.com/care/posetrack/internal/types"
)

// Extractor maps one frame to a KeypointSet. Implementations never fail:
// any problem yields an empty set, which callers treat as "no pose".
type Extractor interface {
	Extract(ctx context.Context, img image.Image) types.KeypointSet
	// Joints is the length of every non-empty set returned
	Joints() int
	// Degraded reports that no model is serving extractions
	Degraded() bool
}

// Model is the pose estimation backend
type Model interface {
	Infer(ctx context.Context, req runner.Request) (*runner.Response, error)
}

// liveness is implemented by models that can go down at runtime
type liveness interface {
	Alive() bool
}

// Config contains extractor settings
type Config struct {
	Joints    int // default: 17
	InputSize int // square model input side, default: 256
}

// Stats contains extraction counters
type Stats struct {
	Frames    uint64 `json:"frames"`
	Detected  uint64 `json:"detected"`
	Empty     uint64 `json:"empty"`
	Failures  uint64 `json:"failures"`
	Degraded  bool   `json:"degraded"`
	Joints    int    `json:"joints"`
	InputSize int    `json:"input_size"`
}

// New returns a model-backed extractor, or the degraded variant when model is nil
func New(model Model, cfg Config) Extractor {
	if cfg.Joints <= 0 {
		cfg.Joints = types.DefaultJoints
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 256
	}
	if model == nil {
		slog.Warn("keypoint: no pose model configured, extractor running degraded")
		return NewDegraded(cfg.Joints)
	}
	return &ModelExtractor{model: model, cfg: cfg}
}

// ModelExtractor runs a pose estimation model on every frame
type ModelExtractor struct {
	model Model
	cfg   Config

	frames   uint64
	detected uint64
	failures uint64
}

// Extract letterboxes img to the model input, runs inference and converts
// the (y, x, score) rows to joints in anatomical order.
func (e *ModelExtractor) Extract(ctx context.Context, img image.Image) types.KeypointSet {
	atomic.AddUint64(&e.frames, 1)

	if img == nil || img.Bounds().Empty() {
		return types.KeypointSet{}
	}

	size := e.cfg.InputSize
	resp, err := e.model.Infer(ctx, runner.Request{
		Kind:   "keypoints",
		Shape:  []int{size, size, 3},
		Pixels: letterbox(img, size),
	})
	if err != nil {
		atomic.AddUint64(&e.failures, 1)
		slog.Debug("keypoint: inference failed", "error", err)
		return types.KeypointSet{}
	}

	ks, err := decodeJoints(resp.Values, e.cfg.Joints)
	if err != nil {
		atomic.AddUint64(&e.failures, 1)
		slog.Warn("keypoint: unexpected model output", "error", err, "shape", resp.Shape)
		return types.KeypointSet{}
	}

	atomic.AddUint64(&e.detected, 1)
	return ks
}

// decodeJoints reads joints×3 values laid out as (y, x, score)
func decodeJoints(values []float32, joints int) (types.KeypointSet, error) {
	if len(values) != joints*3 {
		return nil, fmt.Errorf("got %d values, want %d", len(values), joints*3)
	}

	ks := make(types.KeypointSet, joints)
	for i := range ks {
		row := values[i*3 : i*3+3]
		ks[i] = types.Joint{
			X:     unit(row[1]),
			Y:     unit(row[0]),
			Score: unit(row[2]),
		}
	}
	return ks, nil
}

func unit(v float32) float64 {
	switch {
	case math.IsNaN(float64(v)), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return float64(v)
}

// Joints implements Extractor
func (e *ModelExtractor) Joints() int {
	return e.cfg.Joints
}

// Degraded implements Extractor. A model that went down counts as degraded
// until it is restarted.
func (e *ModelExtractor) Degraded() bool {
	if l, ok := e.model.(liveness); ok {
		return !l.Alive()
	}
	return false
}

// Stats returns extraction counters
func (e *ModelExtractor) Stats() Stats {
	frames := atomic.LoadUint64(&e.frames)
	detected := atomic.LoadUint64(&e.detected)
	return Stats{
		Frames:    frames,
		Detected:  detected,
		Empty:     frames - detected,
		Failures:  atomic.LoadUint64(&e.failures),
		Degraded:  e.Degraded(),
		Joints:    e.cfg.Joints,
		InputSize: e.cfg.InputSize,
	}
}

// DegradedExtractor stands in when no pose model is available
type DegradedExtractor struct {
	joints int
	frames uint64
}

// NewDegraded creates an extractor that never detects a pose
func NewDegraded(joints int) *DegradedExtractor {
	if joints <= 0 {
		joints = types.DefaultJoints
	}
	return &DegradedExtractor{joints: joints}
}

// Extract implements Extractor and always returns an empty set
func (d *DegradedExtractor) Extract(ctx context.Context, img image.Image) types.KeypointSet {
	atomic.AddUint64(&d.frames, 1)
	return types.KeypointSet{}
}

// Joints implements Extractor
func (d *DegradedExtractor) Joints() int { return d.joints }

// Degraded implements Extractor
func (d *DegradedExtractor) Degraded() bool { return true }

// Stats returns extraction counters
func (d *DegradedExtractor) Stats() Stats {
	frames := atomic.LoadUint64(&d.frames)
	return Stats{Frames: frames, Empty: frames, Degraded: true, Joints: d.joints}
}
