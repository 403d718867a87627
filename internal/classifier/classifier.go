// Package classifier maps a sequence of feature vectors to a label
// distribution. Two variants exist: ModelClassifier, backed by an external
// model runner, and DegradedClassifier, used when no model is available.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"github.com/care/posetrack/internal/labels"
	"github.com/care/posetrack/internal/runner"
	"github.com/care/posetrack/internal/types"
)

// Classifier is the capability shared by both variants. Callers discover
// input width, score channel and timesteps here instead of branching on
// model generations.
type Classifier interface {
	Classify(ctx context.Context, vectors []types.FeatureVector) (types.ClassificationResult, error)
	// InputWidth is the feature vector length F
	InputWidth() int
	// IncludeScores reports whether vectors carry (x, y, score) per joint
	IncludeScores() bool
	// Timesteps is the sequence length T the model consumes (1 = single frame)
	Timesteps() int
	Labels() *labels.Set
	Degraded() bool
}

// Model is the classification backend
type Model interface {
	Infer(ctx context.Context, req runner.Request) (*runner.Response, error)
}

type liveness interface {
	Alive() bool
}

// Config describes the input shape of the deployed model
type Config struct {
	InputWidth    int
	Timesteps     int
	IncludeScores bool
}

// Stats contains classification counters
type Stats struct {
	Calls     uint64 `json:"calls"`
	Failures  uint64 `json:"failures"`
	Fallbacks uint64 `json:"fallbacks"` // calls answered degraded while the model was down
	Degraded  bool   `json:"degraded"`
	Width     int    `json:"input_width"`
	Timesteps int    `json:"timesteps"`
	Classes   int    `json:"classes"`
}

// New returns the model-backed variant, or the degraded one when model is nil
func New(model Model, set *labels.Set, cfg Config) (Classifier, error) {
	if set == nil || set.Len() == 0 {
		return nil, labels.ErrEmpty
	}
	if cfg.InputWidth <= 0 {
		return nil, fmt.Errorf("classifier: input width must be > 0")
	}
	if cfg.Timesteps <= 0 {
		cfg.Timesteps = 1
	}

	if model == nil {
		slog.Warn("classifier: no model configured, running degraded",
			"classes", set.Len(),
		)
		return &DegradedClassifier{labels: set, cfg: cfg}, nil
	}
	return &ModelClassifier{model: model, labels: set, cfg: cfg}, nil
}

// ModelClassifier runs an external sequence model
type ModelClassifier struct {
	model  Model
	labels *labels.Set
	cfg    Config

	calls     uint64
	failures  uint64
	fallbacks uint64
}

// Classify assembles a [T][F] tensor from the most recent vectors, runs the
// model and reduces per-step outputs by elementwise mean. While the model
// process is down the degraded placeholder is returned instead.
func (c *ModelClassifier) Classify(ctx context.Context, vectors []types.FeatureVector) (types.ClassificationResult, error) {
	atomic.AddUint64(&c.calls, 1)

	if c.Degraded() {
		atomic.AddUint64(&c.fallbacks, 1)
		return uniform(c.labels), nil
	}

	t, f := c.cfg.Timesteps, c.cfg.InputWidth
	resp, err := c.model.Infer(ctx, runner.Request{
		Kind:   "classify",
		Shape:  []int{t, f},
		Values: Assemble(vectors, t, f),
	})
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return types.ClassificationResult{}, fmt.Errorf("classifier: inference failed: %w", err)
	}

	dist, err := Reduce(resp.Values, c.labels.Len())
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return types.ClassificationResult{}, fmt.Errorf("classifier: %w", err)
	}

	idx := floats.MaxIdx(dist)
	return types.ClassificationResult{
		Label:        c.labels.Name(idx),
		Confidence:   dist[idx],
		Distribution: dist,
	}, nil
}

// Assemble lays out the last t vectors as a row-major t×f tensor. Fewer
// than t vectors are zero-padded at the front so the newest frame always
// occupies the last row; every row is trimmed or padded to f.
func Assemble(vectors []types.FeatureVector, t, f int) []float32 {
	out := make([]float32, t*f)
	if len(vectors) > t {
		vectors = vectors[len(vectors)-t:]
	}
	offset := t - len(vectors)
	for i, v := range vectors {
		row := out[(offset+i)*f : (offset+i+1)*f]
		copy(row, v)
	}
	return out
}

// Reduce turns model output into one distribution of length classes. The
// output is either one distribution or one per step; per-step outputs are
// averaged elementwise.
func Reduce(values []float32, classes int) ([]float64, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("no classes")
	}
	if len(values) == 0 || len(values)%classes != 0 {
		return nil, fmt.Errorf("model returned %d values for %d classes", len(values), classes)
	}

	steps := len(values) / classes
	dist := make([]float64, classes)
	row := make([]float64, classes)
	for s := 0; s < steps; s++ {
		for i := range row {
			row[i] = float64(values[s*classes+i])
		}
		floats.Add(dist, row)
	}
	if steps > 1 {
		floats.Scale(1/float64(steps), dist)
	}
	return dist, nil
}

// InputWidth implements Classifier
func (c *ModelClassifier) InputWidth() int { return c.cfg.InputWidth }

// IncludeScores implements Classifier
func (c *ModelClassifier) IncludeScores() bool { return c.cfg.IncludeScores }

// Timesteps implements Classifier
func (c *ModelClassifier) Timesteps() int { return c.cfg.Timesteps }

// Labels implements Classifier
func (c *ModelClassifier) Labels() *labels.Set { return c.labels }

// Degraded implements Classifier
func (c *ModelClassifier) Degraded() bool {
	if l, ok := c.model.(liveness); ok {
		return !l.Alive()
	}
	return false
}

// Stats returns classification counters
func (c *ModelClassifier) Stats() Stats {
	return Stats{
		Calls:     atomic.LoadUint64(&c.calls),
		Failures:  atomic.LoadUint64(&c.failures),
		Fallbacks: atomic.LoadUint64(&c.fallbacks),
		Degraded:  c.Degraded(),
		Width:     c.cfg.InputWidth,
		Timesteps: c.cfg.Timesteps,
		Classes:   c.labels.Len(),
	}
}

// DegradedClassifier stands in when no classification model is available. Every
// result carries a uniform distribution, the Unknown label and Degraded=true.
type DegradedClassifier struct {
	labels *labels.Set
	cfg    Config
	calls  uint64
}

// Classify implements Classifier
func (d *DegradedClassifier) Classify(ctx context.Context, vectors []types.FeatureVector) (types.ClassificationResult, error) {
	atomic.AddUint64(&d.calls, 1)
	return uniform(d.labels), nil
}

// uniform is the placeholder result used whenever no model answers
func uniform(set *labels.Set) types.ClassificationResult {
	n := set.Len()
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = 1 / float64(n)
	}
	return types.ClassificationResult{
		Label:        labels.Unknown,
		Confidence:   1 / float64(n),
		Distribution: dist,
		Degraded:     true,
	}
}

// InputWidth implements Classifier
func (d *DegradedClassifier) InputWidth() int { return d.cfg.InputWidth }

// IncludeScores implements Classifier
func (d *DegradedClassifier) IncludeScores() bool { return d.cfg.IncludeScores }

// Timesteps implements Classifier
func (d *DegradedClassifier) Timesteps() int { return d.cfg.Timesteps }

// Labels implements Classifier
func (d *DegradedClassifier) Labels() *labels.Set { return d.labels }

// Degraded implements Classifier
func (d *DegradedClassifier) Degraded() bool { return true }

// Stats returns classification counters
func (d *DegradedClassifier) Stats() Stats {
	return Stats{
		Calls:     atomic.LoadUint64(&d.calls),
		Degraded:  true,
		Width:     d.cfg.InputWidth,
		Timesteps: d.cfg.Timesteps,
		Classes:   d.labels.Len(),
	}
}
