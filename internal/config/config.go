// Package config provides the configuration structure for the tts-task-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied to unset fields.
const (
	DefaultPort           = 8000
	DefaultWorkers        = 1
	DefaultQueueSize      = 256
	DefaultTimeoutSeconds = 300
	DefaultLanguage       = "en"
	DefaultTemperature    = 0.75
	DefaultEngine         = "http"
)

// HTTPConfig holds the configuration for the HTTP API server.
type HTTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// EngineConfig holds the configuration for the speech synthesis engine.
type EngineConfig struct {
	// Kind selects the synthesizer implementation: "http" or "exec".
	Kind string `toml:"kind"`
	// ServiceURL is the base URL of the standalone inference service (http).
	ServiceURL string `toml:"service_url"`
	// BinaryPath is the local inference binary (exec).
	BinaryPath string `toml:"binary_path"`
	// Reentrant declares whether the engine tolerates concurrent invocations.
	Reentrant      bool    `toml:"reentrant"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Temperature    float64 `toml:"temperature"`
	Language       string  `toml:"language"`
}

// TasksConfig holds the configuration for the task executor.
type TasksConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	PromptsDir  string `toml:"prompts_dir"`
	BaseLogsDir string `toml:"base_logs_dir"`
}

// NATSConfig holds the configuration for the optional artifact publisher.
// An empty URL disables publishing entirely.
type NATSConfig struct {
	URL                      string `toml:"url"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	HTTP   HTTPConfig   `toml:"http"`
	Engine EngineConfig `toml:"engine"`
	Tasks  TasksConfig  `toml:"tasks"`
	Paths  PathsConfig  `toml:"paths"`
	NATS   NATSConfig   `toml:"nats"`
}

// Load loads the configuration for the tts-task-service and fills defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}

	if c.Engine.Kind == "" {
		c.Engine.Kind = DefaultEngine
	}

	if c.Engine.TimeoutSeconds == 0 {
		c.Engine.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Engine.Temperature == 0 {
		c.Engine.Temperature = DefaultTemperature
	}

	if c.Engine.Language == "" {
		c.Engine.Language = DefaultLanguage
	}

	if c.Tasks.Workers == 0 {
		c.Tasks.Workers = DefaultWorkers
	}

	if c.Tasks.QueueSize == 0 {
		c.Tasks.QueueSize = DefaultQueueSize
	}
}
