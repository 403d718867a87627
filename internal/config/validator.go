package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults in place
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "posetrack"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.HealthPort < 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("health_port out of range: %d", cfg.HealthPort)
	}

	if err := validateModels(&cfg.Models); err != nil {
		return fmt.Errorf("models: %w", err)
	}

	validateSession(&cfg.Session, cfg.Models.Classifier.Timesteps)

	if cfg.Batch.Stride <= 0 {
		cfg.Batch.Stride = 1
	}

	if cfg.Camera.RTSPURL != "" {
		if cfg.Camera.Width <= 0 {
			cfg.Camera.Width = 640
		}
		if cfg.Camera.Height <= 0 {
			cfg.Camera.Height = 480
		}
		if cfg.Camera.FPS <= 0 {
			cfg.Camera.FPS = 5
		}
		if cfg.Camera.SessionID == "" {
			cfg.Camera.SessionID = "camera"
		}
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = fmt.Sprintf("posetrack/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"frames":  0,
			"control": 1,
			"events":  1,
			"health":  0,
		}
	}

	return nil
}

func validateModels(m *ModelsConfig) error {
	ext := &m.Extractor
	if ext.Joints <= 0 {
		ext.Joints = 17
	}
	if ext.InputSize <= 0 {
		ext.InputSize = 256
	}
	if ext.RequestTimeoutMS <= 0 {
		ext.RequestTimeoutMS = 2000
	}

	cls := &m.Classifier
	if cls.Timesteps <= 0 {
		cls.Timesteps = 1
	}
	if cls.FeatureWidth <= 0 {
		perJoint := 2
		if cls.IncludeScores {
			perJoint = 3
		}
		cls.FeatureWidth = ext.Joints * perJoint
	}
	if cls.RequestTimeoutMS <= 0 {
		cls.RequestTimeoutMS = 2000
	}

	if ext.Command == "" && ext.ModelPath != "" {
		return fmt.Errorf("extractor.model_path set without extractor.command")
	}
	if cls.Command == "" && cls.ModelPath != "" {
		return fmt.Errorf("classifier.model_path set without classifier.command")
	}

	return nil
}

func validateSession(s *SessionConfig, timesteps int) {
	if s.MinFrames <= 0 {
		s.MinFrames = timesteps
	}
	if s.WindowSize <= 0 {
		s.WindowSize = 16
	}
	if s.WindowSize < s.MinFrames {
		s.WindowSize = s.MinFrames
	}
	if s.WindowSize < timesteps {
		s.WindowSize = timesteps
	}
	if s.IdleTimeoutS <= 0 {
		s.IdleTimeoutS = 120
	}
	if s.StatsIntervalS <= 0 {
		s.StatsIntervalS = 10
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 4
	}
}
