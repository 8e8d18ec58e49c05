package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config is the full on-disk configuration.
//
// All durations are Go duration strings (e.g. "30s", "5m", "1h").
//
// Environment overrides (applied after file parsing):
//   - OLLAMA_URL      -> inference.url
//   - OLLAMA_MODEL    -> inference.model
//   - MATCHBOT_DB     -> storage.path
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Inference  InferenceConfig  `json:"inference"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Stats      StatsConfig      `json:"stats,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./matchbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// InferenceConfig points at the chat-completion endpoint.
//
// Defaults (when fields are omitted/zero):
//   - url: "http://localhost:11434/api/chat"
//   - model: "exaone3.5:latest"
//   - timeout: "60s"
//   - max_per_minute: 0 (unlimited)
type InferenceConfig struct {
	URL          string `json:"url,omitempty"`
	Model        string `json:"model,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	MaxPerMinute int    `json:"max_per_minute,omitempty"`
}

// DispatcherConfig controls the queue poller.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1m"
//   - batch_limit: 10
type DispatcherConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	BatchLimit   int    `json:"batch_limit,omitempty"`
}

// StatsConfig controls the periodic summary cadence (default "1h").
type StatsConfig struct {
	Interval string `json:"interval,omitempty"`
}

const (
	DefaultInferenceURL   = "http://localhost:11434/api/chat"
	DefaultInferenceModel = "exaone3.5:latest"
)

// applyEnv layers environment overrides over file values.
// The original deployment configured endpoints purely via env.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("OLLAMA_URL")); v != "" {
		c.Inference.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_MODEL")); v != "" {
		c.Inference.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MATCHBOT_DB")); v != "" {
		c.Storage.Path = v
	}
}

// Validate checks settings that must be resolvable before startup proceeds.
func (c *Config) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if driver == "" || driver == "none" {
		return errors.New("storage.driver is required (the queue lives there)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("dispatcher.poll_interval", c.Dispatcher.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("inference.timeout", c.Inference.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("stats.interval", c.Stats.Interval); err != nil {
		return err
	}
	if c.Dispatcher.BatchLimit < 0 {
		return fmt.Errorf("dispatcher.batch_limit must be >= 0, got %d", c.Dispatcher.BatchLimit)
	}
	return nil
}
