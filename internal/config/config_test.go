package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GOALCHAT_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goalchat.yaml")
	yml := strings.Join([]string{
		"api_url: https://goals.example.com",
		"token: from-file",
		"poll:",
		"  interval: 250ms",
		"  max_attempts: 4",
		"sync_interval: 1m",
		"transcript:",
		"  dir: /var/log/goalchat",
		`allowed_origins: ["http://localhost:5173"]`,
	}, "\n")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GOALCHAT_CONFIG", path)
	t.Setenv("GOALCHAT_TOKEN", "from-env")
	t.Setenv("GOALCHAT_DEBUG", "yes")
	t.Setenv("GOALCHAT_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("GOALCHAT_DB_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.APIURL = "https://goals.example.com"
	want.Token = "from-env"
	want.Debug = true
	want.DBPath = ""
	want.Poll.Interval = 250 * time.Millisecond
	want.Poll.MaxAttempts = 4
	want.SyncInterval = time.Minute
	want.HeartbeatInterval = 5 * time.Second
	want.Transcript.Dir = "/var/log/goalchat"
	want.AllowedOrigins = []string{"http://localhost:5173"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug in debug mode", cfg.SlogLevel())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("GOALCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded with a missing config file")
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("GOALCHAT_CONFIG", "")
	t.Setenv("GOALCHAT_POLL_MAX_ATTEMPTS", "many")
	t.Setenv("GOALCHAT_SYNC_INTERVAL", "soon")
	t.Setenv("GOALCHAT_DEBUG", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.MaxAttempts != 10 || cfg.SyncInterval != 10*time.Second || cfg.Debug {
		t.Errorf("malformed values not ignored: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"empty url", func(c *Config) { c.APIURL = "" }, "GOALCHAT_API_URL cannot be empty"},
		{"relative url", func(c *Config) { c.APIURL = "goals.local" }, "not an absolute URL"},
		{"zero poll interval", func(c *Config) { c.Poll.Interval = 0 }, "GOALCHAT_POLL_INTERVAL"},
		{"negative delay", func(c *Config) { c.Poll.InitialDelay = -time.Second }, "GOALCHAT_POLL_INITIAL_DELAY"},
		{"zero attempts", func(c *Config) { c.Poll.MaxAttempts = 0 }, "GOALCHAT_POLL_MAX_ATTEMPTS"},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, "GOALCHAT_HEARTBEAT_INTERVAL"},
		{"zero queue", func(c *Config) { c.Transcript.QueueSize = 0 }, "GOALCHAT_TRANSCRIPT_QUEUE_SIZE"},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Validate() = %v, want nil", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	for level, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		cfg := Default()
		cfg.LogLevel = level
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", level, got, want)
		}
	}
}
