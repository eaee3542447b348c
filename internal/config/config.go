// Package config loads the YAML configuration file. Defaults are set
// before unmarshaling so the file only needs the keys it changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claudewatch/claudewatch/internal/watcher"
	"github.com/claudewatch/claudewatch/internal/webhook"
)

type Config struct {
	Watcher WatcherConfig    `yaml:"watcher"`
	Server  ServerConfig     `yaml:"server"`
	Live    LiveConfig       `yaml:"live"`
	Webhook []webhook.Config `yaml:"webhooks"`
}

type WatcherConfig struct {
	BasePath          string        `yaml:"base_path"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	EndTimeout        time.Duration `yaml:"end_timeout"`
	ProcessExisting   bool          `yaml:"process_existing"`
	EmitSessionEvents bool          `yaml:"emit_session_events"`
	TruncateInputs    bool          `yaml:"truncate_inputs"`
	MaxInputLength    int           `yaml:"max_input_length"`
	StateFile         string        `yaml:"state_file"`
	SaveInterval      time.Duration `yaml:"save_interval"`
	Notify            bool          `yaml:"notify"`
	TrackProcesses    bool          `yaml:"track_processes"`
	QueueCapacity     int           `yaml:"async_queue_capacity"`
}

type ServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MetricsListen string `yaml:"metrics_listen"`
}

type LiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Retention   string `yaml:"retention_policy"`
	MaxMessages int    `yaml:"max_messages"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	wd := watcher.DefaultConfig()
	return &Config{
		Watcher: WatcherConfig{
			BasePath:          wd.BasePath,
			PollInterval:      wd.PollInterval,
			IdleTimeout:       wd.IdleTimeout,
			EndTimeout:        wd.EndTimeout,
			ProcessExisting:   wd.ProcessExisting,
			EmitSessionEvents: wd.EmitSessionEvents,
			TruncateInputs:    wd.TruncateInputs,
			MaxInputLength:    wd.MaxInputLength,
			SaveInterval:      wd.SaveInterval,
			Notify:            wd.Notify,
			QueueCapacity:     wd.StreamCapacity,
		},
		Server: ServerConfig{
			Enabled:       true,
			MetricsListen: "0.0.0.0:9090",
		},
		Live: LiveConfig{
			Enabled:     true,
			Retention:   string(watcher.RetentionFull),
			MaxMessages: watcher.DefaultLiveConfig().MaxMessages,
		},
	}
}

// Load reads path into a Config with defaults applied first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch watcher.RetentionPolicy(c.Live.Retention) {
	case watcher.RetentionFull, watcher.RetentionSliding, watcher.RetentionNone:
	default:
		return fmt.Errorf("unknown retention_policy %q", c.Live.Retention)
	}
	for i, wh := range c.Webhook {
		if wh.URL == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
	}
	return nil
}

// WatcherConfig converts the file representation into the watcher's
// runtime configuration.
func (c *Config) WatcherConfig() watcher.Config {
	return watcher.Config{
		BasePath:          c.Watcher.BasePath,
		PollInterval:      c.Watcher.PollInterval,
		IdleTimeout:       c.Watcher.IdleTimeout,
		EndTimeout:        c.Watcher.EndTimeout,
		ProcessExisting:   c.Watcher.ProcessExisting,
		EmitSessionEvents: c.Watcher.EmitSessionEvents,
		TruncateInputs:    c.Watcher.TruncateInputs,
		MaxInputLength:    c.Watcher.MaxInputLength,
		StateFile:         c.Watcher.StateFile,
		SaveInterval:      c.Watcher.SaveInterval,
		LiveSessions:      c.Live.Enabled,
		Live: watcher.LiveConfig{
			Retention:   watcher.RetentionPolicy(c.Live.Retention),
			MaxMessages: c.Live.MaxMessages,
		},
		StreamCapacity: c.Watcher.QueueCapacity,
		Notify:         c.Watcher.Notify,
		TrackProcesses: c.Watcher.TrackProcesses,
	}
}
