package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete posetrack configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	HealthPort       int           `yaml:"health_port"`        // 0 disables the health server
	Labels           LabelsConfig  `yaml:"labels"`
	Models           ModelsConfig  `yaml:"models"`
	Session          SessionConfig `yaml:"session"`
	Batch            BatchConfig   `yaml:"batch"`
	Camera           CameraConfig  `yaml:"camera"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// LabelsConfig selects the ordered class names.
// Names wins over Path when both are set.
type LabelsConfig struct {
	Path  string   `yaml:"path"`
	Names []string `yaml:"names"`
}

// ModelsConfig contains the two model runner definitions
type ModelsConfig struct {
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

// RunnerConfig describes how to spawn a model runner process.
// An empty Command leaves the component in degraded mode.
type RunnerConfig struct {
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	ModelPath        string   `yaml:"model_path"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"` // default: 2000
}

// ExtractorConfig contains pose estimation settings
type ExtractorConfig struct {
	RunnerConfig `yaml:",inline"`
	Joints       int `yaml:"joints"`     // default: 17
	InputSize    int `yaml:"input_size"` // square model input, default: 256
}

// ClassifierConfig contains sequence classifier settings
type ClassifierConfig struct {
	RunnerConfig  `yaml:",inline"`
	FeatureWidth  int  `yaml:"feature_width"`  // default: joints*2, or joints*3 with scores
	Timesteps     int  `yaml:"timesteps"`      // 1 = single-frame model
	IncludeScores bool `yaml:"include_scores"` // encode (x, y, score) instead of (x, y)
}

// SessionConfig contains streaming session settings
type SessionConfig struct {
	WindowSize     int `yaml:"window_size"`      // default: max(timesteps, 16)
	MinFrames      int `yaml:"min_frames"`       // default: timesteps
	IdleTimeoutS   int `yaml:"idle_timeout_s"`   // default: 120
	StatsIntervalS int `yaml:"stats_interval_s"` // default: 10
	QueueSize      int `yaml:"queue_size"`       // per-session inbound frames, default: 4
}

// BatchConfig contains stored video settings
type BatchConfig struct {
	Stride int  `yaml:"stride"` // default: 1
	Whole  bool `yaml:"whole"`  // also classify the whole processed sequence
}

// CameraConfig contains the optional live camera source
type CameraConfig struct {
	RTSPURL   string  `yaml:"rtsp_url"`
	Width     int     `yaml:"width"`      // default: 640
	Height    int     `yaml:"height"`     // default: 480
	FPS       float64 `yaml:"fps"`        // default: 5
	SessionID string  `yaml:"session_id"` // default: camera
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker      string          `yaml:"broker"`
	TopicPrefix string          `yaml:"topic_prefix"`
	QoS         map[string]byte `yaml:"qos"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
