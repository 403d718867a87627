package service

import (
	"time"

	"github.com/care/posetrack/internal/classifier"
	"github.com/care/posetrack/internal/health"
	"github.com/care/posetrack/internal/keypoint"
	"github.com/care/posetrack/internal/runner"
	"github.com/care/posetrack/internal/session"
	"github.com/care/posetrack/internal/transport"
	"github.com/care/posetrack/internal/types"
)

// Metrics is the statistics snapshot served on /metrics
type Metrics struct {
	InstanceID    string                    `json:"instance_id"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Labels        []string                  `json:"labels"`
	Extractor     *keypoint.Stats           `json:"extractor,omitempty"`
	Classifier    *classifier.Stats         `json:"classifier,omitempty"`
	Runners       map[string]runner.Metrics `json:"runners"`
	Sessions      *session.ManagerStats     `json:"sessions,omitempty"`
	MQTT          *transport.Stats          `json:"mqtt,omitempty"`
	Camera        *types.StreamStats        `json:"camera,omitempty"`
}

type extractorStats interface {
	Stats() keypoint.Stats
}

type classifierStats interface {
	Stats() classifier.Stats
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() health.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := health.Status{
		Status:    health.StatusHealthy,
		CheckedAt: time.Now(),
	}

	if !s.isRunning {
		status.Status = health.StatusUnhealthy
		status.Reasons = append(status.Reasons, "service not running")
		return status
	}
	status.UptimeSeconds = int64(time.Since(s.started).Seconds())

	if s.extractor != nil && s.extractor.Degraded() {
		status.ExtractorDegraded = true
		status.Reasons = append(status.Reasons, "pose extractor degraded")
	}
	if s.classifier != nil && s.classifier.Degraded() {
		status.ClassifierDegraded = true
		status.Reasons = append(status.Reasons, "classifier degraded")
	}

	if s.manager != nil {
		status.ActiveSessions = s.manager.Stats().Active
	}

	if s.transport != nil {
		status.MQTTConnected = s.transport.Stats().Connected
		if !status.MQTTConnected {
			status.Reasons = append(status.Reasons, "mqtt disconnected")
		}
	}

	if s.camera != nil {
		status.CameraConnected = s.camera.Stats().IsConnected
		if !status.CameraConnected {
			status.Reasons = append(status.Reasons, "camera disconnected")
		}
	}

	if len(status.Reasons) > 0 {
		status.Status = health.StatusDegraded
	}
	return status
}

// Metrics returns the statistics of every component
func (s *Service) Metrics() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := Metrics{
		InstanceID: s.cfg.InstanceID,
		Labels:     s.labels.Names(),
		Runners:    make(map[string]runner.Metrics, len(s.runners)),
	}
	if s.isRunning {
		m.UptimeSeconds = int64(time.Since(s.started).Seconds())
	}

	if es, ok := s.extractor.(extractorStats); ok {
		stats := es.Stats()
		m.Extractor = &stats
	}
	if cs, ok := s.classifier.(classifierStats); ok {
		stats := cs.Stats()
		m.Classifier = &stats
	}
	for _, r := range s.runners {
		m.Runners[r.ID()] = r.Metrics()
	}
	if s.manager != nil {
		stats := s.manager.Stats()
		m.Sessions = &stats
	}
	if s.transport != nil {
		stats := s.transport.Stats()
		m.MQTT = &stats
	}
	if s.camera != nil {
		stats := s.camera.Stats()
		m.Camera = &stats
	}
	return m
}
