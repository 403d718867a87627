package features

import (
	"testing"

	"github.com/care/posetrack/internal/types"
)

func pose(n int) types.KeypointSet {
	ks := make(types.KeypointSet, n)
	for i := range ks {
		ks[i] = types.Joint{
			X:     float64(i+1) / 100,
			Y:     float64(i+1) / 50,
			Score: 0.9,
		}
	}
	return ks
}

// TestEncode_FixedLength checks the output length for every combination of
// input size, width and score flag.
func TestEncode_FixedLength(t *testing.T) {
	for _, n := range []int{0, 1, 5, 17, 33} {
		for _, width := range []int{0, 1, 10, 34, 51, 64} {
			for _, scores := range []bool{false, true} {
				v := Encode(pose(n), Layout{Width: width, IncludeScores: scores})
				if len(v) != width {
					t.Fatalf("n=%d width=%d scores=%v: len=%d", n, width, scores, len(v))
				}
			}
		}
	}
	t.Logf("✅ encoder output length always equals target width")
}

func TestEncode_EmptyYieldsZeros(t *testing.T) {
	v := Encode(nil, Layout{Width: 34})
	if len(v) != 34 {
		t.Fatalf("len = %d, want 34", len(v))
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("v[%d] = %v, want 0", i, x)
		}
	}
}

func TestEncode_Layout(t *testing.T) {
	ks := types.KeypointSet{
		{X: 0.1, Y: 0.2, Score: 0.3},
		{X: 0.4, Y: 0.5, Score: 0.6},
	}

	tests := []struct {
		name   string
		layout Layout
		want   []float32
	}{
		{"xy", Layout{Width: 4}, []float32{0.1, 0.2, 0.4, 0.5}},
		{"xy padded", Layout{Width: 6}, []float32{0.1, 0.2, 0.4, 0.5, 0, 0}},
		{"xy truncated", Layout{Width: 3}, []float32{0.1, 0.2, 0.4}},
		{"xys", Layout{Width: 6, IncludeScores: true}, []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}},
		{"xys truncated", Layout{Width: 4, IncludeScores: true}, []float32{0.1, 0.2, 0.3, 0.4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(ks, tt.layout)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncode_FullPose(t *testing.T) {
	v := Encode(pose(17), Layout{Width: 51, IncludeScores: true})
	if v[50] != float32(0.9) {
		t.Errorf("last score = %v, want 0.9", v[50])
	}

	v = Encode(pose(17), Layout{Width: 34})
	if v[33] != float32(17.0/50) {
		t.Errorf("last y = %v, want %v", v[33], float32(17.0/50))
	}
}

type caps struct {
	width  int
	scores bool
}

func (c caps) InputWidth() int     { return c.width }
func (c caps) IncludeScores() bool { return c.scores }

func TestLayoutFor(t *testing.T) {
	l := LayoutFor(caps{width: 51, scores: true})
	if l.Width != 51 || !l.IncludeScores {
		t.Errorf("LayoutFor = %+v", l)
	}
}
