package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/posetrack/internal/types"
)

var ErrSessionNotFound = errors.New("session: not found")

// Sink receives every event of every session. It is called from session
// workers concurrently and must be safe for concurrent use.
type Sink func(types.Event)

// ManagerConfig contains session manager settings
type ManagerConfig struct {
	Session     Config
	QueueSize   int           // inbound frames buffered per session (default: 4)
	IdleTimeout time.Duration // sessions without frames are closed after this (default: 2m)
}

// ManagerStats contains registry statistics
type ManagerStats struct {
	Active          int              `json:"active"`
	Opened          uint64           `json:"opened"`
	Closed          uint64           `json:"closed"`
	FramesSubmitted uint64           `json:"frames_submitted"`
	FramesRejected  uint64           `json:"frames_rejected"`
	Sessions        map[string]Stats `json:"sessions"`
}

type entry struct {
	session *Session
	in      chan types.Frame
	cancel  context.CancelCauseFunc
	done    chan struct{}

	// mu is held shared by Submit while it hands a frame to in, and
	// exclusively by the worker before its final drain of in
	mu        sync.RWMutex
	closing   chan struct{}
	closeOnce sync.Once
}

// markClosing makes every later Submit for this entry reject its frame
func (e *entry) markClosing() {
	e.closeOnce.Do(func() { close(e.closing) })
}

// Manager keeps concurrent sessions that share one extractor and one
// classifier. Each session gets its own worker goroutine and inbound queue.
type Manager struct {
	deps Deps
	cfg  ManagerConfig
	sink Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   map[string]time.Time // recently closed IDs, rejected until reopened

	opened          uint64
	closedCount     uint64
	framesSubmitted uint64
	framesRejected  uint64
}

// NewManager creates a manager whose sessions live until ctx is cancelled
func NewManager(ctx context.Context, deps Deps, cfg ManagerConfig, sink Sink) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if sink == nil {
		sink = func(types.Event) {}
	}

	m := &Manager{
		deps:     deps,
		cfg:      cfg,
		sink:     sink,
		sessions: make(map[string]*entry),
		closed:   make(map[string]time.Time),
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m
}

// Open starts the session id explicitly. A recently closed ID becomes
// usable again.
func (m *Manager) Open(id string) error {
	m.mu.Lock()
	delete(m.closed, id)
	e, err := m.getOrCreateLocked(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	events, err := e.session.Open()
	for _, ev := range events {
		m.sink(ev)
	}
	return err
}

// Submit queues frame for session id, creating the session on first use.
// Blocks while the session queue is full. A session that is closing or was
// recently closed rejects the frame with a rejected event and ErrSessionClosed.
func (m *Manager) Submit(ctx context.Context, id string, frame types.Frame) error {
	m.mu.Lock()
	if _, recently := m.closed[id]; recently {
		m.mu.Unlock()
		atomic.AddUint64(&m.framesRejected, 1)
		m.sink(types.Event{
			SessionID: id,
			Kind:      types.EventRejected,
			Error:     ErrSessionClosed.Error(),
			TraceID:   frame.TraceID,
			Timestamp: time.Now(),
		})
		return ErrSessionClosed
	}
	e, err := m.getOrCreateLocked(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	select {
	case <-e.closing:
		return m.reject(e, frame)
	default:
	}

	select {
	case e.in <- frame:
		atomic.AddUint64(&m.framesSubmitted, 1)
		return nil
	case <-e.closing:
		return m.reject(e, frame)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) reject(e *entry, frame types.Frame) error {
	atomic.AddUint64(&m.framesRejected, 1)
	m.sink(e.session.reject(frame))
	return ErrSessionClosed
}

func (m *Manager) getOrCreateLocked(id string) (*entry, error) {
	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("session %s: manager stopped: %w", id, ErrSessionClosed)
	}

	ctx, cancel := context.WithCancelCause(m.ctx)
	e := &entry{
		session: New(id, m.deps, m.cfg.Session),
		in:      make(chan types.Frame, m.cfg.QueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	m.sessions[id] = e
	atomic.AddUint64(&m.opened, 1)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(e.done)
		e.session.Run(ctx, e.in, m.sink)

		// frames queued by a Submit that raced with the exit of Run
		e.markClosing()
		e.mu.Lock()
		e.session.rejectPending(e.in, m.sink)
		e.mu.Unlock()

		m.unregister(id, e)
	}()

	slog.Info("session registered",
		"session_id", id,
		"total_sessions", len(m.sessions),
	)
	return e, nil
}

// unregister drops e if it is still the registered entry for id
func (m *Manager) unregister(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[id]; ok && cur == e {
		delete(m.sessions, id)
		m.closed[id] = time.Now()
		atomic.AddUint64(&m.closedCount, 1)

		slog.Info("session unregistered",
			"session_id", id,
			"total_sessions", len(m.sessions),
		)
	}
}

// Close ends session id after the frame in progress and waits until its
// closed event was emitted. Frames still queued, and frames submitted from
// now on, are rejected.
func (m *Manager) Close(id, reason string) error {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.markClosing()
	e.cancel(errors.New(reason))
	<-e.done
	return nil
}

// Get returns the live session id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// CloseAll ends every session and waits for their workers
func (m *Manager) CloseAll() {
	m.cancel()
	m.wg.Wait()
	slog.Info("all sessions closed",
		"closed_total", atomic.LoadUint64(&m.closedCount),
	)
}

// Stats returns registry statistics
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sessions := make(map[string]Stats, len(entries))
	for _, e := range entries {
		sessions[e.session.ID()] = e.session.Stats()
	}

	return ManagerStats{
		Active:          len(entries),
		Opened:          atomic.LoadUint64(&m.opened),
		Closed:          atomic.LoadUint64(&m.closedCount),
		FramesSubmitted: atomic.LoadUint64(&m.framesSubmitted),
		FramesRejected:  atomic.LoadUint64(&m.framesRejected),
		Sessions:        sessions,
	}
}

// ReapIdle closes sessions that received no frame within the idle timeout
// and forgets closed IDs older than it. Returns the number of sessions closed.
func (m *Manager) ReapIdle(now time.Time) int {
	m.mu.Lock()
	var idle []string
	for id, e := range m.sessions {
		if now.Sub(e.session.IdleSince()) > m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for id, at := range m.closed {
		if now.Sub(at) > m.cfg.IdleTimeout {
			delete(m.closed, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		if err := m.Close(id, "idle timeout"); err == nil {
			slog.Info("idle session reaped", "session_id", id)
		}
	}
	return len(idle)
}

// StartStatsLogger logs registry stats every interval and reaps idle
// sessions. Blocks until ctx is cancelled.
func (m *Manager) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := m.Stats()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.ReapIdle(now)
			stats := m.Stats()

			for id, s := range stats.Sessions {
				p := prev.Sessions[id]
				deltaFrames := s.Seq - p.Seq
				if deltaFrames == 0 {
					continue
				}
				missRate := float64(s.NoDetection-p.NoDetection) / float64(deltaFrames)
				if missRate > 0.80 {
					slog.Warn("session high no-detection rate",
						"session_id", id,
						"no_detection_pct", int(missRate*100),
						"frames_last_interval", deltaFrames,
						"extractor_degraded", m.deps.Extractor.Degraded(),
						"action", "check camera framing and pose model health",
					)
				}
			}

			slog.Debug("session manager stats",
				"active", stats.Active,
				"opened", stats.Opened,
				"closed", stats.Closed,
				"frames_submitted", stats.FramesSubmitted,
				"frames_rejected", stats.FramesRejected,
			)

			prev = stats
		}
	}
}
