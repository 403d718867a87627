// Package session drives one capture session end to end: frames are
// decoded, turned into keypoints, encoded, buffered and classified in
// arrival order by a single worker.
package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/care/posetrack/internal/classifier"
	"github.com/care/posetrack/internal/decode"
	"github.com/care/posetrack/internal/features"
	"github.com/care/posetrack/internal/keypoint"
	"github.com/care/posetrack/internal/types"
	"github.com/care/posetrack/internal/window"
)

var ErrSessionClosed = errors.New("session: closed")

// State is the session lifecycle position
type State int32

const (
	StateIdle State = iota
	StateOpen
	StateAdmitting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateAdmitting:
		return "admitting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Deps are the shared, read-only collaborators of every session
type Deps struct {
	Extractor  keypoint.Extractor
	Classifier classifier.Classifier
}

// Config contains per-session settings
type Config struct {
	// MinFrames is the buffered count required before classifying
	// (default: classifier timesteps)
	MinFrames int
	// WindowSize is the buffer capacity (default: max(MinFrames, 16))
	WindowSize int
}

func (c Config) withDefaults(cls classifier.Classifier) Config {
	if c.MinFrames <= 0 {
		c.MinFrames = cls.Timesteps()
	}
	if c.MinFrames <= 0 {
		c.MinFrames = 1
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 16
	}
	if c.WindowSize < c.MinFrames {
		c.WindowSize = c.MinFrames
	}
	return c
}

// Stats contains session counters
type Stats struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	Seq             uint64    `json:"seq"`
	Results         uint64    `json:"results"`
	NoDetection     uint64    `json:"no_detection"`
	DecodeErrors    uint64    `json:"decode_errors"`
	InferenceErrors uint64    `json:"inference_errors"`
	Rejected        uint64    `json:"rejected"`
	Buffered        int       `json:"buffered"`
	LastActiveAt    time.Time `json:"last_active_at"`
	Rate            RateStats `json:"rate"`
}

// Session owns one window. Admit must be called from a single goroutine
// (Run does this); Close, State and Stats are safe from any goroutine.
type Session struct {
	id     string
	deps   Deps
	cfg    Config
	layout features.Layout
	window *window.Ring[types.FeatureVector]
	rate   *rateTracker

	state      atomic.Int32
	seq        atomic.Uint64
	lastActive atomic.Int64 // unix nanos
	buffered   atomic.Int64

	results         atomic.Uint64
	noDetection     atomic.Uint64
	decodeErrors    atomic.Uint64
	inferenceErrors atomic.Uint64
	rejected        atomic.Uint64
}

// New creates an idle session
func New(id string, deps Deps, cfg Config) *Session {
	cfg = cfg.withDefaults(deps.Classifier)

	s := &Session{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		layout: features.LayoutFor(deps.Classifier),
		window: window.New[types.FeatureVector](cfg.WindowSize),
		rate:   newRateTracker(32),
	}
	s.touch()
	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Open moves an idle session to Open. Opening an open session is a no-op.
func (s *Session) Open() ([]types.Event, error) {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateOpen)) {
		slog.Info("session: opened",
			"session_id", s.id,
			"window_size", s.cfg.WindowSize,
			"min_frames", s.cfg.MinFrames,
			"input_width", s.layout.Width,
		)
		return []types.Event{s.event(types.EventOpened, 0)}, nil
	}
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	return nil, nil
}

// Admit runs one frame through the pipeline and returns the events it
// produced. Per-frame failures are reported as events and never end the
// session; only a closed session returns an error.
func (s *Session) Admit(ctx context.Context, frame types.Frame) ([]types.Event, error) {
	if s.State() == StateClosed {
		s.window.Reset()
		s.buffered.Store(0)
		return []types.Event{s.reject(frame)}, ErrSessionClosed
	}

	events, _ := s.Open()
	s.state.CompareAndSwap(int32(StateOpen), int32(StateAdmitting))

	now := time.Now()
	s.touch()
	s.rate.observe(now)
	seq := s.seq.Add(1)

	return append(events, s.process(ctx, frame, seq)), nil
}

func (s *Session) process(ctx context.Context, frame types.Frame, seq uint64) types.Event {
	img := frame.Image
	if img == nil {
		var err error
		img, err = decode.Payload(frame.Payload)
		if err != nil {
			s.decodeErrors.Add(1)
			ev := s.frameEvent(types.EventDecodeError, seq, frame)
			ev.Error = err.Error()
			slog.Debug("session: frame decode failed",
				"session_id", s.id,
				"seq", seq,
				"trace_id", frame.TraceID,
				"error", err,
			)
			return ev
		}
	}

	return s.classify(ctx, img, frame, seq)
}

func (s *Session) classify(ctx context.Context, img image.Image, frame types.Frame, seq uint64) types.Event {
	ks := s.deps.Extractor.Extract(ctx, img)
	if !ks.Detected(s.deps.Extractor.Joints()) {
		s.noDetection.Add(1)
		return s.frameEvent(types.EventNoDetection, seq, frame)
	}

	s.window.Push(features.Encode(ks, s.layout))
	s.buffered.Store(int64(s.window.Len()))

	if s.window.Len() < s.cfg.MinFrames {
		ev := s.frameEvent(types.EventBuffering, seq, frame)
		ev.Keypoints = ks
		ev.Buffered = s.window.Len()
		return ev
	}

	res, err := s.deps.Classifier.Classify(ctx, s.window.Snapshot())
	if err != nil {
		s.inferenceErrors.Add(1)
		ev := s.frameEvent(types.EventInferenceError, seq, frame)
		ev.Error = err.Error()
		ev.Keypoints = ks
		slog.Warn("session: classification failed",
			"session_id", s.id,
			"seq", seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return ev
	}

	s.results.Add(1)
	ev := s.frameEvent(types.EventResult, seq, frame)
	ev.Result = &res
	ev.Keypoints = ks
	ev.Buffered = s.window.Len()
	return ev
}

// reject reports frame as not admitted. It does not touch the window and is
// safe from any goroutine.
func (s *Session) reject(frame types.Frame) types.Event {
	s.rejected.Add(1)
	ev := s.event(types.EventRejected, s.seq.Load())
	ev.TraceID = frame.TraceID
	ev.Error = ErrSessionClosed.Error()
	return ev
}

// rejectPending empties in without blocking and emits a rejected event
// for every frame still queued
func (s *Session) rejectPending(in <-chan types.Frame, emit func(types.Event)) {
	for {
		select {
		case frame, ok := <-in:
			if !ok {
				return
			}
			emit(s.reject(frame))
		default:
			return
		}
	}
}

// Close moves the session to Closed. Only the first call returns true
// together with the closed event.
func (s *Session) Close(reason string) (types.Event, bool) {
	prev := State(s.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return types.Event{}, false
	}

	slog.Info("session: closed",
		"session_id", s.id,
		"reason", reason,
		"frames", s.seq.Load(),
		"results", s.results.Load(),
		"no_detection", s.noDetection.Load(),
	)

	ev := s.event(types.EventClosed, s.seq.Load())
	ev.Reason = reason
	return ev, true
}

// Run admits frames from in until ctx is cancelled or in is closed. The next
// frame is read only after the previous one has been fully processed. On exit
// frames still queued in in are rejected, then a closed event is emitted whose
// reason is the context cause, if any.
func (s *Session) Run(ctx context.Context, in <-chan types.Frame, emit func(types.Event)) {
	reason := "input closed"
	defer func() {
		s.rejectPending(in, emit)
		if ev, ok := s.Close(reason); ok {
			emit(ev)
		}
		s.window.Reset()
		s.buffered.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			reason = closeReason(ctx)
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				reason = closeReason(ctx)
				emit(s.reject(frame))
				return
			}

			events, err := s.Admit(ctx, frame)
			for _, ev := range events {
				emit(ev)
			}
			if errors.Is(err, ErrSessionClosed) {
				reason = "closed"
				return
			}
		}
	}
}

// closeReason reports the cancellation cause set by the closer, or
// "cancelled" for a plain cancel.
func closeReason(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause.Error()
	}
	return "cancelled"
}

// IdleSince returns the time of the last admitted frame or creation
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Stats returns session counters
func (s *Session) Stats() Stats {
	return Stats{
		ID:              s.id,
		State:           s.State().String(),
		Seq:             s.seq.Load(),
		Results:         s.results.Load(),
		NoDetection:     s.noDetection.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		InferenceErrors: s.inferenceErrors.Load(),
		Rejected:        s.rejected.Load(),
		Buffered:        int(s.buffered.Load()),
		LastActiveAt:    s.IdleSince(),
		Rate:            s.rate.stats(),
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) event(kind types.EventKind, seq uint64) types.Event {
	return types.Event{
		SessionID: s.id,
		Seq:       seq,
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

func (s *Session) frameEvent(kind types.EventKind, seq uint64, frame types.Frame) types.Event {
	ev := s.event(kind, seq)
	ev.TraceID = frame.TraceID
	ev.Degraded = s.deps.Extractor.Degraded() || s.deps.Classifier.Degraded()
	return ev
}
