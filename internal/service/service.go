// Package service wires the pose pipeline together: model runners, the
// session manager, the MQTT transport, the live camera and the health
// server. It also builds the batch pipeline for the classify command.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/care/posetrack/internal/batch"
	"github.com/care/posetrack/internal/camera"
	"github.com/care/posetrack/internal/classifier"
	"github.com/care/posetrack/internal/config"
	"github.com/care/posetrack/internal/health"
	"github.com/care/posetrack/internal/keypoint"
	"github.com/care/posetrack/internal/labels"
	"github.com/care/posetrack/internal/runner"
	"github.com/care/posetrack/internal/session"
	"github.com/care/posetrack/internal/transport"
	"github.com/care/posetrack/internal/types"
)

const (
	watchdogInterval    = 30 * time.Second
	healthPublishPeriod = 30 * time.Second
	extractorRunnerID   = "pose-extractor"
	classifierRunnerID  = "pose-classifier"
)

// Service is the posetrack orchestrator
type Service struct {
	cfg    *config.Config
	labels *labels.Set

	// Models
	runners    []*runner.Runner
	extractor  keypoint.Extractor
	classifier classifier.Classifier

	// Streaming components, created by Run
	manager   *session.Manager
	transport *transport.MQTT
	camera    *camera.Camera
	health    *health.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
}

// New creates a service from a validated configuration and loads the
// label set. Models are not started until StartModels or Run.
func New(cfg *config.Config) (*Service, error) {
	set, err := loadLabels(cfg.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}

	slog.Info("service configured",
		"instance_id", cfg.InstanceID,
		"labels", set.Names(),
		"timesteps", cfg.Models.Classifier.Timesteps,
		"feature_width", cfg.Models.Classifier.FeatureWidth,
	)

	return &Service{cfg: cfg, labels: set}, nil
}

// loadLabels prefers inline names, then the label file, then the defaults
func loadLabels(cfg config.LabelsConfig) (*labels.Set, error) {
	switch {
	case len(cfg.Names) > 0:
		return labels.FromList(cfg.Names)
	case cfg.Path != "":
		return labels.Load(cfg.Path)
	default:
		return labels.FromList(labels.Defaults)
	}
}

// Labels returns the loaded label set
func (s *Service) Labels() *labels.Set {
	return s.labels
}

// StartModels spawns the configured model runners and builds the extractor
// and classifier. A runner that is not configured or fails to start leaves
// its component in degraded mode instead of failing.
func (s *Service) StartModels(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.extractor != nil {
		return nil
	}

	ext := s.cfg.Models.Extractor
	var extModel keypoint.Model
	if r := s.startRunner(ctx, extractorRunnerID, ext.RunnerConfig); r != nil {
		extModel = r
	}
	s.extractor = keypoint.New(extModel, keypoint.Config{
		Joints:    ext.Joints,
		InputSize: ext.InputSize,
	})

	cls := s.cfg.Models.Classifier
	var clsModel classifier.Model
	if r := s.startRunner(ctx, classifierRunnerID, cls.RunnerConfig); r != nil {
		clsModel = r
	}
	c, err := classifier.New(clsModel, s.labels, classifier.Config{
		InputWidth:    cls.FeatureWidth,
		Timesteps:     cls.Timesteps,
		IncludeScores: cls.IncludeScores,
	})
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	s.classifier = c

	slog.Info("models initialized",
		"extractor_degraded", s.extractor.Degraded(),
		"classifier_degraded", s.classifier.Degraded(),
		"runners", len(s.runners),
	)
	return nil
}

// startRunner returns nil when the runner is not configured or cannot start
func (s *Service) startRunner(ctx context.Context, id string, cfg config.RunnerConfig) *runner.Runner {
	if cfg.Command == "" {
		slog.Info("model runner not configured", "runner_id", id)
		return nil
	}

	r, err := runner.New(runner.Config{
		ID:             id,
		Command:        cfg.Command,
		Args:           cfg.Args,
		ModelPath:      cfg.ModelPath,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		slog.Warn("model runner rejected, running degraded", "runner_id", id, "error", err)
		return nil
	}

	if err := r.Start(ctx); err != nil {
		slog.Warn("model runner failed to start, running degraded",
			"runner_id", id,
			"error", err,
			"action", "check models configuration",
		)
		return nil
	}

	s.runners = append(s.runners, r)
	return r
}

// StopModels terminates every model runner
func (s *Service) StopModels() {
	s.mu.RLock()
	runners := s.runners
	s.mu.RUnlock()

	for _, r := range runners {
		if err := r.Stop(); err != nil {
			slog.Error("failed to stop model runner", "runner_id", r.ID(), "error", err)
		}
	}
}

// Batch returns a stored-video pipeline over the service's models.
// StartModels must have been called.
func (s *Service) Batch() (*batch.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.extractor == nil {
		return nil, fmt.Errorf("models not started")
	}
	return batch.New(batch.Deps{
		Extractor:  s.extractor,
		Classifier: s.classifier,
	})
}

// Run starts the streaming service and blocks until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	slog.Info("posetrack service starting", "instance_id", s.cfg.InstanceID)

	if err := s.StartModels(ctx); err != nil {
		return err
	}

	sessionCfg := s.cfg.Session
	manager := session.NewManager(ctx,
		session.Deps{Extractor: s.extractor, Classifier: s.classifier},
		session.ManagerConfig{
			Session: session.Config{
				MinFrames:  sessionCfg.MinFrames,
				WindowSize: sessionCfg.WindowSize,
			},
			QueueSize:   sessionCfg.QueueSize,
			IdleTimeout: time.Duration(sessionCfg.IdleTimeoutS) * time.Second,
		},
		s.emit,
	)

	s.mu.Lock()
	s.manager = manager
	s.mu.Unlock()

	// Transport and camera are assigned before any frame reaches the manager
	if s.cfg.MQTT.Broker != "" {
		t := transport.NewMQTT(s.cfg, manager)
		if err := t.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mu.Lock()
		s.transport = t
		s.mu.Unlock()

		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt transport: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.publishHealth(ctx)
		}()
	} else {
		slog.Info("no mqtt broker configured, events are logged only")
	}

	if s.cfg.Camera.RTSPURL != "" {
		if err := s.startCamera(ctx, manager); err != nil {
			return err
		}
	}

	if s.cfg.HealthPort > 0 {
		srv := health.NewServer(fmt.Sprintf(":%d", s.cfg.HealthPort), s)
		if err := srv.Start(); err != nil {
			return err
		}
		s.mu.Lock()
		s.health = srv
		s.mu.Unlock()
	}

	// Start periodic stats logging (also reaps idle sessions)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		manager.StartStatsLogger(ctx, time.Duration(sessionCfg.StatsIntervalS)*time.Second)
	}()

	// Start model runner watchdog (auto-recovery)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchRunners(ctx)
	}()

	slog.Info("posetrack service running",
		"mqtt", s.cfg.MQTT.Broker != "",
		"camera", s.cfg.Camera.RTSPURL != "",
		"health_port", s.cfg.HealthPort,
		"watchdog_enabled", len(s.runners) > 0,
	)

	<-ctx.Done()

	slog.Info("posetrack service run loop exiting")
	return nil
}

func (s *Service) startCamera(ctx context.Context, manager *session.Manager) error {
	camCfg := s.cfg.Camera
	sessionID := camCfg.SessionID

	cam, err := camera.New(camera.Config{
		URL:    camCfg.RTSPURL,
		Width:  camCfg.Width,
		Height: camCfg.Height,
		FPS:    camCfg.FPS,
	}, func(ctx context.Context, frame types.Frame) error {
		return manager.Submit(ctx, sessionID, frame)
	})
	if err != nil {
		return fmt.Errorf("failed to create camera: %w", err)
	}

	if err := manager.Open(sessionID); err != nil {
		return fmt.Errorf("failed to open camera session: %w", err)
	}
	if err := cam.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}

	s.mu.Lock()
	s.camera = cam
	s.mu.Unlock()

	slog.Info("live camera feeding session", "session_id", sessionID, "url", camCfg.RTSPURL)
	return nil
}

// emit is the sink of every session event
func (s *Service) emit(ev types.Event) {
	switch ev.Kind {
	case types.EventResult:
		slog.Debug("classification",
			"session_id", ev.SessionID,
			"seq", ev.Seq,
			"label", ev.Result.Label,
			"confidence", ev.Result.Confidence,
			"degraded", ev.Degraded,
			"trace_id", ev.TraceID,
		)
	case types.EventOpened, types.EventClosed:
		slog.Info("session event",
			"session_id", ev.SessionID,
			"kind", ev.Kind,
			"seq", ev.Seq,
			"reason", ev.Reason,
		)
	default:
		slog.Debug("session event",
			"session_id", ev.SessionID,
			"kind", ev.Kind,
			"seq", ev.Seq,
			"error", ev.Error,
		)
	}

	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return
	}
	if err := t.PublishEvent(ev); err != nil {
		slog.Debug("event not published",
			"session_id", ev.SessionID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}

// watchRunners restarts model runners whose process died or whose stream
// went out of sync
func (s *Service) watchRunners(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.restartDeadRunners(ctx)
		}
	}
}

func (s *Service) restartDeadRunners(ctx context.Context) int {
	s.mu.RLock()
	runners := s.runners
	s.mu.RUnlock()

	restarted := 0
	for _, r := range runners {
		if r.Alive() {
			continue
		}

		metrics := r.Metrics()
		slog.Warn("model runner down, attempting restart",
			"runner_id", r.ID(),
			"last_seen_ago_s", int(time.Since(metrics.LastSeenAt).Seconds()),
			"failures", metrics.Failures,
			"restarts", metrics.Restarts,
		)

		if err := r.Restart(ctx); err != nil {
			slog.Error("failed to restart model runner",
				"runner_id", r.ID(),
				"error", err,
				"action", "manual intervention required",
			)
			continue
		}
		restarted++
		slog.Info("model runner restarted successfully", "runner_id", r.ID())
	}
	return restarted
}

func (s *Service) publishHealth(ctx context.Context) {
	ticker := time.NewTicker(healthPublishPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			t := s.transport
			s.mu.RUnlock()
			if t == nil {
				continue
			}

			payload, err := json.Marshal(s.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health status", "error", err)
				continue
			}
			if err := t.PublishHealth(payload); err != nil {
				slog.Debug("health status not published", "error", err)
			}
		}
	}
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		s.StopModels()
		return nil
	}
	cam, manager, t, srv := s.camera, s.manager, s.transport, s.health
	s.mu.Unlock()

	slog.Info("shutting down posetrack service")

	// Shutdown sequence (order is important!):
	// 1. Stop the camera (no more live frames)
	if cam != nil {
		slog.Info("stopping camera")
		cam.Stop()
	}

	// 2. Close sessions while the transport can still publish closed events
	if manager != nil {
		slog.Info("closing sessions")
		manager.CloseAll()
	}

	// 3. Disconnect MQTT
	if t != nil {
		t.Stop()
	}

	// 4. Stop model runners
	s.StopModels()

	// 5. Stop health server
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}

	// 6. Wait for goroutines to finish (without holding the lock)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("all goroutines finished")
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for goroutines: %w", ctx.Err()))
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("posetrack service shutdown complete", "uptime", uptime)
	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}
