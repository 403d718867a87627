package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/care/posetrack/internal/gstream"
)

// ReconnectConfig controls exponential backoff between connection attempts
type ReconnectConfig struct {
	MaxRetries    int           // consecutive failures before giving up (default: 5)
	RetryDelay    time.Duration // first delay (default: 1s)
	MaxRetryDelay time.Duration // delay cap (default: 30s)
}

// DefaultReconnectConfig returns the default backoff schedule
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// reconnectState counts consecutive failures. The pipeline resets it once
// it reaches PLAYING, so only back-to-back failures exhaust the budget.
type reconnectState struct {
	retries    atomic.Int32
	reconnects atomic.Uint32
}

func (s *reconnectState) reset() {
	s.retries.Store(0)
}

// connectFunc runs one connection until it fails (error) or ctx ends (nil)
type connectFunc func(ctx context.Context) error

// runWithReconnect calls connect until it returns nil, ctx is cancelled,
// MaxRetries consecutive attempts failed or an error is not retryable.
//
// Backoff schedule with defaults: 1s, 2s, 4s, 8s, 16s.
func runWithReconnect(ctx context.Context, connect connectFunc, cfg ReconnectConfig, state *reconnectState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var perr *gstream.PipelineError
		if errors.As(err, &perr) && !perr.Category.Retryable() {
			return fmt.Errorf("camera: giving up on %s error: %w", perr.Category, err)
		}

		attempt := int(state.retries.Add(1))
		state.reconnects.Add(1)

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("camera: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(attempt, cfg)
		slog.Warn("camera: retrying connection",
			"error", err,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// calculateBackoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
