package classifier

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/care/posetrack/internal/labels"
	"github.com/care/posetrack/internal/runner"
	"github.com/care/posetrack/internal/types"
)

// softmaxModel returns a fixed per-call output and records the request.
type softmaxModel struct {
	out  []float32
	err  error
	last runner.Request
}

func (m *softmaxModel) Infer(ctx context.Context, req runner.Request) (*runner.Response, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &runner.Response{Values: m.out}, nil
}

func defaultSet(t *testing.T) *labels.Set {
	t.Helper()
	s, err := labels.FromList(labels.Defaults)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestClassify_AllZeroInput(t *testing.T) {
	m := &softmaxModel{out: []float32{0.1, 0.2, 0.4, 0.2, 0.1}}
	c, err := New(m, defaultSet(t), Config{InputWidth: 34, Timesteps: 1})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Classify(context.Background(), []types.FeatureVector{make(types.FeatureVector, 34)})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if len(res.Distribution) != 5 {
		t.Fatalf("distribution length = %d, want 5", len(res.Distribution))
	}
	if math.Abs(sum(res.Distribution)-1) > 1e-4 {
		t.Errorf("distribution sums to %v", sum(res.Distribution))
	}
	if res.Label != "dog" || math.Abs(res.Confidence-0.4) > 1e-6 {
		t.Errorf("result = %s/%v, want dog/0.4", res.Label, res.Confidence)
	}
	if res.Degraded {
		t.Error("model result flagged degraded")
	}
	if len(m.last.Values) != 34 || m.last.Shape[0] != 1 || m.last.Shape[1] != 34 {
		t.Errorf("request shape = %v with %d values", m.last.Shape, len(m.last.Values))
	}
}

// TestClassify_MeanReduction checks per-step outputs are averaged, not voted:
// two steps favour class 0 narrowly, one favours class 1 strongly.
func TestClassify_MeanReduction(t *testing.T) {
	m := &softmaxModel{out: []float32{
		0.5, 0.4, 0.1,
		0.5, 0.4, 0.1,
		0.0, 1.0, 0.0,
	}}
	set, _ := labels.FromList([]string{"squat", "lunge", "plank"})
	c, _ := New(m, set, Config{InputWidth: 4, Timesteps: 3})

	res, err := c.Classify(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Label != "lunge" {
		t.Errorf("label = %s, want lunge (majority vote would pick squat)", res.Label)
	}
	if math.Abs(res.Confidence-0.6) > 1e-6 {
		t.Errorf("confidence = %v, want 0.6", res.Confidence)
	}
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name  string
		model *softmaxModel
	}{
		{"runner error", &softmaxModel{err: errors.New("pipe closed")}},
		{"class mismatch", &softmaxModel{out: []float32{0.5, 0.5, 0}}},
		{"empty output", &softmaxModel{out: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := New(tt.model, defaultSet(t), Config{InputWidth: 34})
			if _, err := c.Classify(context.Background(), nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAssemble(t *testing.T) {
	vs := []types.FeatureVector{{1, 1}, {2, 2}, {3, 3}}

	t.Run("front padding", func(t *testing.T) {
		got := Assemble(vs[:1], 3, 2)
		want := []float32{0, 0, 0, 0, 1, 1}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	})

	t.Run("keeps most recent", func(t *testing.T) {
		got := Assemble(vs, 2, 2)
		want := []float32{2, 2, 3, 3}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	})

	t.Run("row width", func(t *testing.T) {
		got := Assemble([]types.FeatureVector{{1, 2, 3, 4}}, 1, 3)
		if len(got) != 3 || got[2] != 3 {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		got := Assemble(nil, 2, 3)
		if len(got) != 6 {
			t.Fatalf("len = %d, want 6", len(got))
		}
	})
}

func TestDegradedClassifier(t *testing.T) {
	c, err := New(nil, defaultSet(t), Config{InputWidth: 34, Timesteps: 16})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Degraded() {
		t.Fatal("classifier without model must report Degraded")
	}

	res, err := c.Classify(context.Background(), []types.FeatureVector{make(types.FeatureVector, 34)})
	if err != nil {
		t.Fatalf("degraded Classify must not fail: %v", err)
	}
	if !res.Degraded || res.Label != labels.Unknown {
		t.Errorf("result = %+v", res)
	}
	for i, p := range res.Distribution {
		if math.Abs(p-0.2) > 1e-9 {
			t.Errorf("distribution[%d] = %v, want 0.2", i, p)
		}
	}
	if c.Timesteps() != 16 || c.InputWidth() != 34 {
		t.Errorf("capabilities lost in degraded mode: T=%d F=%d", c.Timesteps(), c.InputWidth())
	}
}

// downModel is a model whose process can die
type downModel struct {
	softmaxModel
	alive bool
	calls int
}

func (m *downModel) Alive() bool { return m.alive }

func (m *downModel) Infer(ctx context.Context, req runner.Request) (*runner.Response, error) {
	m.calls++
	if !m.alive {
		return nil, runner.ErrNotRunning
	}
	return m.softmaxModel.Infer(ctx, req)
}

func TestClassify_DeadModelFallsBack(t *testing.T) {
	m := &downModel{softmaxModel: softmaxModel{out: []float32{0.1, 0.2, 0.4, 0.2, 0.1}}}
	c, err := New(m, defaultSet(t), Config{InputWidth: 34, Timesteps: 1})
	if err != nil {
		t.Fatal(err)
	}
	in := []types.FeatureVector{make(types.FeatureVector, 34)}

	if !c.Degraded() {
		t.Fatal("dead model must report Degraded")
	}
	res, err := c.Classify(context.Background(), in)
	if err != nil {
		t.Fatalf("Classify with dead model must not fail: %v", err)
	}
	if !res.Degraded || res.Label != labels.Unknown || len(res.Distribution) != 5 {
		t.Errorf("result = %+v, want uniform degraded placeholder", res)
	}
	if m.calls != 0 {
		t.Errorf("dead model was called %d times", m.calls)
	}

	m.alive = true
	res, err = c.Classify(context.Background(), in)
	if err != nil || res.Degraded || res.Label != "dog" {
		t.Errorf("after restart: %+v, %v", res, err)
	}

	st := c.(*ModelClassifier).Stats()
	if st.Calls != 2 || st.Fallbacks != 1 || st.Failures != 0 {
		t.Errorf("stats = %+v", st)
	}

	t.Logf("✅ dead model answered degraded, live model used again after restart")
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil, Config{InputWidth: 34}); !errors.Is(err, labels.ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
	if _, err := New(nil, defaultSet(t), Config{}); err == nil {
		t.Error("expected error for zero input width")
	}
}
