package keypoint

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/care/posetrack/internal/runner"
)

type fakeModel struct {
	values []float32
	err    error
	alive  bool
	last   runner.Request
}

func (m *fakeModel) Infer(ctx context.Context, req runner.Request) (*runner.Response, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &runner.Response{Shape: []int{len(m.values) / 3, 3}, Values: m.values}, nil
}

func (m *fakeModel) Alive() bool { return m.alive }

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// yxs builds model output rows where joint i sits at y=i/100, x=i/50.
func yxs(joints int) []float32 {
	out := make([]float32, 0, joints*3)
	for i := 0; i < joints; i++ {
		out = append(out, float32(i)/100, float32(i)/50, 0.8)
	}
	return out
}

func TestExtract_SwapsAxes(t *testing.T) {
	m := &fakeModel{values: yxs(17), alive: true}
	e := New(m, Config{})

	ks := e.Extract(context.Background(), solid(640, 480, color.White))
	if len(ks) != 17 {
		t.Fatalf("len = %d, want 17", len(ks))
	}
	if ks[5].X != float64(float32(5)/50) || ks[5].Y != float64(float32(5)/100) {
		t.Errorf("joint 5 = %+v, want x=0.1 y=0.05", ks[5])
	}
	if ks[16].Score != float64(float32(0.8)) {
		t.Errorf("score = %v", ks[16].Score)
	}

	if got := len(m.last.Pixels); got != 256*256*3 {
		t.Errorf("tensor bytes = %d, want %d", got, 256*256*3)
	}
	if m.last.Shape[0] != 256 || m.last.Shape[2] != 3 {
		t.Errorf("tensor shape = %v", m.last.Shape)
	}
}

func TestExtract_FailuresYieldEmptySet(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		img   image.Image
	}{
		{"nil frame", &fakeModel{values: yxs(17)}, nil},
		{"empty frame", &fakeModel{values: yxs(17)}, image.NewRGBA(image.Rect(0, 0, 0, 0))},
		{"model error", &fakeModel{err: errors.New("boom")}, solid(8, 8, color.Black)},
		{"wrong joint count", &fakeModel{values: yxs(13)}, solid(8, 8, color.Black)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.model, Config{Joints: 17})
			ks := e.Extract(context.Background(), tt.img)
			if len(ks) != 0 {
				t.Errorf("len = %d, want 0", len(ks))
			}
		})
	}
}

func TestExtract_ClampsToUnitRange(t *testing.T) {
	values := yxs(2)
	values[0], values[1], values[2] = -0.5, 1.7, 3
	e := New(&fakeModel{values: values}, Config{Joints: 2})

	ks := e.Extract(context.Background(), solid(4, 4, color.Black))
	if ks[0].X != 1 || ks[0].Y != 0 || ks[0].Score != 1 {
		t.Errorf("joint 0 = %+v, want clamped to [0,1]", ks[0])
	}
}

func TestDegraded(t *testing.T) {
	e := New(nil, Config{Joints: 17})
	if !e.Degraded() {
		t.Fatal("extractor without model must report Degraded")
	}
	if e.Joints() != 17 {
		t.Errorf("Joints() = %d", e.Joints())
	}
	if ks := e.Extract(context.Background(), solid(4, 4, color.White)); len(ks) != 0 {
		t.Errorf("degraded extractor returned %d joints", len(ks))
	}

	dead := &fakeModel{values: yxs(17), alive: false}
	if !New(dead, Config{}).Degraded() {
		t.Error("extractor over a dead runner must report Degraded")
	}
	t.Logf("✅ degraded mode is reported by flag, not by output inspection")
}

func TestLetterbox_PreservesAspect(t *testing.T) {
	// 4:1 strip scaled into 16x16 leaves 6 black rows above and below
	src := solid(64, 16, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	rgb := letterbox(src, 16)

	px := func(x, y int) (byte, byte, byte) {
		i := (y*16 + x) * 3
		return rgb[i], rgb[i+1], rgb[i+2]
	}

	if r, g, b := px(8, 0); r != 0 || g != 0 || b != 0 {
		t.Errorf("top padding = %d,%d,%d, want black", r, g, b)
	}
	if r, g, b := px(8, 8); r != 200 || g != 100 || b != 50 {
		t.Errorf("center = %d,%d,%d, want 200,100,50", r, g, b)
	}
}
