package session

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/care/posetrack/internal/window"
)

// RateStats describes how regularly frames arrive
type RateStats struct {
	Samples   int     `json:"samples"`
	FPSMean   float64 `json:"fps_mean"`
	FPSStdDev float64 `json:"fps_stddev"`
	FPSMin    float64 `json:"fps_min"`
	FPSMax    float64 `json:"fps_max"`
	IsStable  bool    `json:"is_stable"`
}

// rateTracker keeps the most recent admission times
type rateTracker struct {
	mu    sync.Mutex
	times *window.Ring[time.Time]
}

func newRateTracker(samples int) *rateTracker {
	return &rateTracker{times: window.New[time.Time](samples)}
}

func (r *rateTracker) observe(t time.Time) {
	r.mu.Lock()
	r.times.Push(t)
	r.mu.Unlock()
}

func (r *rateTracker) stats() RateStats {
	r.mu.Lock()
	times := r.times.Snapshot()
	r.mu.Unlock()
	return calculateRate(times)
}

// calculateRate derives FPS statistics from ordered arrival times.
// Stable means the stddev of instantaneous FPS is under 15% of the mean.
func calculateRate(times []time.Time) RateStats {
	n := len(times)
	if n < 2 {
		return RateStats{Samples: n}
	}

	span := times[n-1].Sub(times[0]).Seconds()
	if span <= 0 {
		return RateStats{Samples: n}
	}
	fpsMean := float64(n-1) / span

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := times[i].Sub(times[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1/interval)
		}
	}
	if len(instantaneous) == 0 {
		return RateStats{Samples: n, FPSMean: fpsMean}
	}

	_, std := stat.PopMeanStdDev(instantaneous, nil)

	return RateStats{
		Samples:   n,
		FPSMean:   fpsMean,
		FPSStdDev: std,
		FPSMin:    floats.Min(instantaneous),
		FPSMax:    floats.Max(instantaneous),
		IsStable:  std < fpsMean*0.15,
	}
}
