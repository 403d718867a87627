package session

import (
	"math"
	"testing"
	"time"
)

func TestCalculateRate(t *testing.T) {
	base := time.Unix(1700000000, 0)

	steady := make([]time.Time, 11)
	for i := range steady {
		steady[i] = base.Add(time.Duration(i) * 200 * time.Millisecond)
	}

	jittery := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(600 * time.Millisecond),
		base.Add(700 * time.Millisecond),
		base.Add(1500 * time.Millisecond),
	}

	tests := []struct {
		name       string
		times      []time.Time
		wantMean   float64
		wantStable bool
	}{
		{"empty", nil, 0, false},
		{"single", []time.Time{base}, 0, false},
		{"steady 5fps", steady, 5, true},
		{"jittery", jittery, 4 / 1.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateRate(tt.times)
			if got.Samples != len(tt.times) {
				t.Errorf("samples = %d", got.Samples)
			}
			if math.Abs(got.FPSMean-tt.wantMean) > 1e-6 {
				t.Errorf("mean = %v, want %v", got.FPSMean, tt.wantMean)
			}
			if got.IsStable != tt.wantStable {
				t.Errorf("stable = %v (std %v)", got.IsStable, got.FPSStdDev)
			}
		})
	}
}

func TestRateTracker_KeepsRecentSamples(t *testing.T) {
	r := newRateTracker(4)
	base := time.Unix(1700000000, 0)

	// slow start then 10fps; only the last 4 arrivals count
	r.observe(base)
	r.observe(base.Add(5 * time.Second))
	for i := 1; i <= 4; i++ {
		r.observe(base.Add(5*time.Second + time.Duration(i)*100*time.Millisecond))
	}

	st := r.stats()
	if st.Samples != 4 {
		t.Fatalf("samples = %d, want 4", st.Samples)
	}
	if math.Abs(st.FPSMean-10) > 1e-6 || st.FPSMin < 9.99 || st.FPSMax > 10.01 {
		t.Errorf("stats = %+v, want ~10fps", st)
	}

	t.Logf("✅ rate window: %.1f fps over %d samples", st.FPSMean, st.Samples)
}
