package camera

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/care/posetrack/internal/gstream"
	"github.com/care/posetrack/internal/types"
)

func nopSink(ctx context.Context, frame types.Frame) error { return nil }

func fastReconnect(maxRetries int) ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    maxRetries,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 4 * time.Millisecond,
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultReconnectConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{64, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	t.Log("✅ Backoff doubles from 1s and caps at 30s")
}

func TestRunWithReconnect_SucceedsAfterFailures(t *testing.T) {
	var state reconnectState
	calls := 0
	connect := func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("connection refused")
		}
		return nil
	}

	if err := runWithReconnect(context.Background(), connect, fastReconnect(5), &state); err != nil {
		t.Fatalf("runWithReconnect: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := state.reconnects.Load(); got != 2 {
		t.Errorf("reconnects = %d, want 2", got)
	}
	t.Logf("✅ Connected on attempt %d", calls)
}

func TestRunWithReconnect_MaxRetriesExceeded(t *testing.T) {
	var state reconnectState
	calls := 0
	connect := func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	}

	err := runWithReconnect(context.Background(), connect, fastReconnect(3), &state)
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("err = %v, want max retries exceeded", err)
	}
	// initial attempt plus three retries
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	t.Logf("✅ Gave up after %d attempts: %v", calls, err)
}

func TestRunWithReconnect_ResetKeepsRetrying(t *testing.T) {
	var state reconnectState
	calls := 0
	connect := func(ctx context.Context) error {
		calls++
		if calls == 6 {
			return nil
		}
		// Every other attempt reaches PLAYING before failing
		if calls%2 == 0 {
			state.reset()
		}
		return errors.New("stream interrupted")
	}

	if err := runWithReconnect(context.Background(), connect, fastReconnect(2), &state); err != nil {
		t.Fatalf("runWithReconnect: %v", err)
	}
	if calls != 6 {
		t.Errorf("calls = %d, want 6", calls)
	}
	t.Log("✅ Reaching PLAYING resets the retry budget")
}

func TestRunWithReconnect_NonRetryable(t *testing.T) {
	var state reconnectState
	calls := 0
	connect := func(ctx context.Context) error {
		calls++
		return &gstream.PipelineError{Category: gstream.ErrCategoryAuth, Message: "401 Unauthorized"}
	}

	err := runWithReconnect(context.Background(), connect, fastReconnect(5), &state)
	var perr *gstream.PipelineError
	if !errors.As(err, &perr) || perr.Category != gstream.ErrCategoryAuth {
		t.Fatalf("err = %v, want auth pipeline error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	t.Log("✅ Auth errors are not retried")
}

func TestRunWithReconnect_ContextCancelled(t *testing.T) {
	var state reconnectState
	ctx, cancel := context.WithCancel(context.Background())

	cfg := ReconnectConfig{MaxRetries: 5, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	connect := func(ctx context.Context) error {
		cancel()
		return errors.New("connection refused")
	}

	done := make(chan error, 1)
	go func() { done <- runWithReconnect(ctx, connect, cfg, &state) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runWithReconnect did not return after cancel")
	}
	t.Log("✅ Cancellation interrupts the retry loop")
}

func TestNew_Validation(t *testing.T) {
	valid := Config{URL: "rtsp://127.0.0.1:8554/gym", Width: 640, Height: 480, FPS: 5}

	tests := []struct {
		name      string
		mutate    func(*Config)
		sink      FrameSink
		shouldErr bool
	}{
		{"valid", func(c *Config) {}, nopSink, false},
		{"empty_url", func(c *Config) { c.URL = "" }, nopSink, true},
		{"fps_too_low", func(c *Config) { c.FPS = 0.05 }, nopSink, true},
		{"fps_too_high", func(c *Config) { c.FPS = 60 }, nopSink, true},
		{"fps_min", func(c *Config) { c.FPS = 0.1 }, nopSink, false},
		{"zero_width", func(c *Config) { c.Width = 0 }, nopSink, true},
		{"nil_sink", func(c *Config) {}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg, tt.sink)
			if (err != nil) != tt.shouldErr {
				t.Errorf("New() err = %v, shouldErr %v", err, tt.shouldErr)
			}
		})
	}
}

func TestNew_ReconnectDefaults(t *testing.T) {
	cam, err := New(Config{URL: "rtsp://cam", Width: 640, Height: 480, FPS: 2}, nopSink)
	if err != nil {
		t.Fatal(err)
	}
	if cam.cfg.Reconnect != DefaultReconnectConfig() {
		t.Errorf("reconnect = %+v, want defaults", cam.cfg.Reconnect)
	}

	stats := cam.Stats()
	if stats.IsConnected || stats.FrameCount != 0 || stats.Resolution != "640x480" || stats.FPSTarget != 2 {
		t.Errorf("unexpected initial stats: %+v", stats)
	}
}

func TestCamera_StopBeforeStart(t *testing.T) {
	cam, err := New(Config{URL: "rtsp://cam", Width: 640, Height: 480, FPS: 2}, nopSink)
	if err != nil {
		t.Fatal(err)
	}
	cam.Stop()
	cam.Stop()
	t.Log("✅ Stop() on a camera that never started is a no-op")
}

func TestCamera_ForwardDeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	received := make(chan struct{}, 8)
	sink := func(ctx context.Context, frame types.Frame) error {
		mu.Lock()
		got = append(got, frame.Index)
		mu.Unlock()
		received <- struct{}{}
		if frame.Index == 1 {
			return errors.New("session closed")
		}
		return nil
	}

	cam, err := New(Config{URL: "rtsp://cam", Width: 4, Height: 4, FPS: 5}, sink)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cam.wg.Add(1)
	go cam.forward(ctx)

	for i := 0; i < 3; i++ {
		cam.frames <- types.Frame{Index: i}
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not forwarded", i)
		}
	}
	cancel()
	cam.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("forwarded = %v, want [0 1 2]", got)
	}
	if cam.sinkErrors.Load() != 1 {
		t.Errorf("sinkErrors = %d, want 1", cam.sinkErrors.Load())
	}
}
