package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claudewatch/claudewatch/internal/watcher"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
watcher:
  poll_interval: 250ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Watcher.PollInterval != 250*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Watcher.PollInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Watcher.IdleTimeout != 2*time.Minute {
		t.Errorf("idle_timeout = %v", cfg.Watcher.IdleTimeout)
	}
	if !cfg.Watcher.ProcessExisting {
		t.Error("process_existing default lost")
	}
	if cfg.Server.MetricsListen != "0.0.0.0:9090" {
		t.Errorf("metrics_listen = %q", cfg.Server.MetricsListen)
	}
	if cfg.Live.Retention != "full" {
		t.Errorf("retention = %q", cfg.Live.Retention)
	}
}

func TestLoadWebhooks(t *testing.T) {
	path := writeConfig(t, `
webhooks:
  - url: https://hooks.example/one
    headers:
      Authorization: Bearer abc
    batch_size: 5
    batch_timeout: 2s
  - url: https://hooks.example/two
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Webhook) != 2 {
		t.Fatalf("webhooks = %d", len(cfg.Webhook))
	}
	wh := cfg.Webhook[0]
	if wh.URL != "https://hooks.example/one" || wh.BatchSize != 5 || wh.BatchTimeout != 2*time.Second {
		t.Errorf("webhook = %+v", wh)
	}
	if wh.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("headers = %v", wh.Headers)
	}
}

func TestLoadRejectsWebhookWithoutURL(t *testing.T) {
	path := writeConfig(t, `
webhooks:
  - batch_size: 5
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for webhook without url")
	}
}

func TestLoadRejectsBadRetention(t *testing.T) {
	path := writeConfig(t, `
live:
  retention_policy: everything
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown retention policy")
	}
}

func TestWatcherConfigConversion(t *testing.T) {
	path := writeConfig(t, `
watcher:
  base_path: /srv/claude
  state_file: /var/lib/claudewatch/state.json
  track_processes: true
live:
  retention_policy: sliding
  max_messages: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wc := cfg.WatcherConfig()
	if wc.BasePath != "/srv/claude" || wc.StateFile != "/var/lib/claudewatch/state.json" {
		t.Errorf("paths = %q %q", wc.BasePath, wc.StateFile)
	}
	if !wc.TrackProcesses || !wc.LiveSessions {
		t.Errorf("flags = %+v", wc)
	}
	if wc.Live.Retention != watcher.RetentionSliding || wc.Live.MaxMessages != 50 {
		t.Errorf("live = %+v", wc.Live)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
