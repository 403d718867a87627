// Package runner bridges Go and an external model process. Requests are
// written to the process stdin and responses read from its stdout, both as
// msgpack messages with a 4-byte big-endian length prefix.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotRunning = errors.New("runner: process not running")
	ErrTimeout    = errors.New("runner: request timed out")
)

// Request is one inference call. Pixels carries raw image bytes,
// Values carries a float tensor; Shape describes whichever is set.
type Request struct {
	Kind   string            `msgpack:"kind"`
	Shape  []int             `msgpack:"shape"`
	Pixels []byte            `msgpack:"pixels,omitempty"`
	Values []float32         `msgpack:"values,omitempty"`
	Meta   map[string]string `msgpack:"meta,omitempty"`
}

// Response is the model's answer to one Request
type Response struct {
	Shape  []int              `msgpack:"shape"`
	Values []float32          `msgpack:"values"`
	Error  string             `msgpack:"error,omitempty"`
	Timing map[string]float64 `msgpack:"timing,omitempty"`
}

// Config contains configuration for a model runner
type Config struct {
	ID             string
	Command        string
	Args           []string
	ModelPath      string
	RequestTimeout time.Duration
}

// Metrics contains health metrics for a runner
type Metrics struct {
	Active       bool      `json:"active"`
	Requests     uint64    `json:"requests"`
	Failures     uint64    `json:"failures"`
	Restarts     uint64    `json:"restarts"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Runner owns one model process. Infer is safe for concurrent use; calls
// are serialized so exactly one request is in flight at a time.
type Runner struct {
	cfg Config

	mu     sync.Mutex // serializes requests
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	requests       uint64
	successes      uint64
	failures       uint64
	restarts       uint64
	totalLatencyUS uint64
	lastSeenAt     atomic.Value // time.Time
}

// New creates a runner. The process is not spawned until Start.
func New(cfg Config) (*Runner, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("runner: command is required")
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Command
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}

	slog.Info("model runner created",
		"runner_id", cfg.ID,
		"command", cfg.Command,
		"model", cfg.ModelPath,
		"request_timeout", cfg.RequestTimeout,
	)

	return &Runner{cfg: cfg}, nil
}

// ID returns the runner ID
func (r *Runner) ID() string {
	return r.cfg.ID
}

// Alive reports whether the process is up and the stream is in sync
func (r *Runner) Alive() bool {
	return r.isActive.Load()
}

// Start spawns the model process
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isActive.Load() {
		return fmt.Errorf("runner %s: already started", r.cfg.ID)
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.spawnProcess(); err != nil {
		r.cancel()
		return fmt.Errorf("failed to spawn model process: %w", err)
	}

	r.isActive.Store(true)
	r.lastSeenAt.Store(time.Now())

	slog.Info("model runner started",
		"runner_id", r.cfg.ID,
		"model", r.cfg.ModelPath,
	)
	return nil
}

func (r *Runner) spawnProcess() error {
	args := append([]string{}, r.cfg.Args...)
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}

	r.cmd = exec.CommandContext(r.ctx, r.cfg.Command, args...)

	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := r.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start model process: %w", err)
	}

	r.stdin = stdin
	r.stdout = bufio.NewReader(stdout)

	slog.Info("model process spawned",
		"runner_id", r.cfg.ID,
		"pid", r.cmd.Process.Pid,
	)

	r.wg.Add(2)
	go r.logStderr(stderr)
	go r.waitProcess(r.ctx, r.cmd)

	return nil
}

// attach wires the runner to an already connected stream
func (r *Runner) attach(ctx context.Context, stdin io.WriteCloser, stdout io.Reader) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.stdin = stdin
	r.stdout = stdout
	r.isActive.Store(true)
	r.lastSeenAt.Store(time.Now())
}

type outcome struct {
	resp Response
	err  error
}

// Infer sends req and waits for the response. A request that was written is
// never abandoned before its response or the request timeout: leaving it
// unread would desynchronize the stream for the next caller. Transport
// failures and timeouts take the runner down until it is restarted.
func (r *Runner) Infer(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActive.Load() {
		atomic.AddUint64(&r.failures, 1)
		return nil, ErrNotRunning
	}

	atomic.AddUint64(&r.requests, 1)
	start := time.Now()

	done := make(chan outcome, 1)
	stdin, stdout := r.stdin, r.stdout
	go func() {
		if err := writeMessage(stdin, req); err != nil {
			done <- outcome{err: fmt.Errorf("failed to write to stdin: %w", err)}
			return
		}
		var resp Response
		err := readMessage(stdout, &resp)
		done <- outcome{resp: resp, err: err}
	}()

	timer := time.NewTimer(r.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			r.fail(out.err)
			return nil, fmt.Errorf("runner %s: %w", r.cfg.ID, out.err)
		}
		if out.resp.Error != "" {
			atomic.AddUint64(&r.failures, 1)
			return nil, fmt.Errorf("runner %s: model error: %s", r.cfg.ID, out.resp.Error)
		}

		atomic.AddUint64(&r.successes, 1)
		atomic.AddUint64(&r.totalLatencyUS, uint64(time.Since(start).Microseconds()))
		r.lastSeenAt.Store(time.Now())
		return &out.resp, nil

	case <-timer.C:
		r.fail(ErrTimeout)
		return nil, ErrTimeout
	}
}

// fail marks the stream unusable and terminates the process
func (r *Runner) fail(err error) {
	atomic.AddUint64(&r.failures, 1)
	if !r.isActive.Swap(false) {
		return
	}

	slog.Error("model runner failed",
		"runner_id", r.cfg.ID,
		"error", err,
		"action", "runner will be restarted by watchdog",
	)

	if r.cancel != nil {
		r.cancel()
	}
	if r.stdin != nil {
		r.stdin.Close()
	}
}

// logStderr maps the model process log levels to slog levels
func (r *Runner) logStderr(stderr io.Reader) {
	defer r.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("model process error", "runner_id", r.cfg.ID, "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("model process warning", "runner_id", r.cfg.ID, "log", line)
		default:
			slog.Debug("model process log", "runner_id", r.cfg.ID, "log", line)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Debug("model process stderr closed", "runner_id", r.cfg.ID, "error", err)
	}
}

// waitProcess reaps the process and marks the runner inactive on exit
func (r *Runner) waitProcess(ctx context.Context, cmd *exec.Cmd) {
	defer r.wg.Done()

	err := cmd.Wait()
	if ctx.Err() == nil {
		// process died on its own; a cancelled ctx means a newer process may own the flag
		r.isActive.Store(false)
	}

	switch {
	case err == nil:
		slog.Info("model process exited cleanly",
			"runner_id", r.cfg.ID,
			"pid", cmd.Process.Pid,
		)
	case ctx.Err() != nil:
		slog.Debug("model process exited (shutdown)",
			"runner_id", r.cfg.ID,
			"pid", cmd.Process.Pid,
		)
	default:
		slog.Error("model process exited unexpectedly",
			"runner_id", r.cfg.ID,
			"pid", cmd.Process.Pid,
			"error", err,
		)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Metrics returns current runner health metrics
func (r *Runner) Metrics() Metrics {
	successes := atomic.LoadUint64(&r.successes)

	var avgLatencyMS float64
	if successes > 0 {
		avgLatencyMS = float64(atomic.LoadUint64(&r.totalLatencyUS)) / float64(successes) / 1000
	}

	var lastSeen time.Time
	if val := r.lastSeenAt.Load(); val != nil {
		lastSeen = val.(time.Time)
	}

	return Metrics{
		Active:       r.isActive.Load(),
		Requests:     atomic.LoadUint64(&r.requests),
		Failures:     atomic.LoadUint64(&r.failures),
		Restarts:     atomic.LoadUint64(&r.restarts),
		AvgLatencyMS: avgLatencyMS,
		LastSeenAt:   lastSeen,
	}
}

// Restart stops a dead runner and spawns a fresh process
func (r *Runner) Restart(ctx context.Context) error {
	if err := r.Stop(); err != nil {
		return err
	}
	atomic.AddUint64(&r.restarts, 1)
	return r.Start(ctx)
}

// Stop terminates the model process. Safe to call more than once.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.isActive.Store(false)

	if r.cancel != nil {
		r.cancel()
	}
	if r.stdin != nil {
		r.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("model runner goroutines stopped cleanly", "runner_id", r.cfg.ID)
	case <-time.After(2 * time.Second):
		slog.Warn("model runner stop timeout, force killing process", "runner_id", r.cfg.ID)
		if r.cmd != nil && r.cmd.Process != nil {
			if err := r.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill model process",
					"runner_id", r.cfg.ID,
					"error", err,
				)
			}
		}
	}

	slog.Info("model runner stopped",
		"runner_id", r.cfg.ID,
		"requests", atomic.LoadUint64(&r.requests),
		"failures", atomic.LoadUint64(&r.failures),
	)
	return nil
}
