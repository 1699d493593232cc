// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
	Debug  bool   `yaml:"debug"`

	// DBPath is the local cache file. Empty disables the cache.
	DBPath   string        `yaml:"db_path"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	Poll              PollConfig    `yaml:"poll"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	Transcript TranscriptConfig `yaml:"transcript"`

	// Port and AllowedOrigins configure the devserver.
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel string `yaml:"log_level"`
}

// PollConfig bounds the wait for an assistant reply.
type PollConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// TranscriptConfig controls the NDJSON conversation transcript.
type TranscriptConfig struct {
	// Dir is the transcript root. Empty disables transcripts.
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIURL:   "http://localhost:8000",
		DBPath:   "./data/goalchat.db",
		CacheTTL: 30 * 24 * time.Hour,
		Poll: PollConfig{
			InitialDelay: time.Second,
			Interval:     time.Second,
			MaxAttempts:  10,
		},
		SyncInterval:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    15 * time.Second,
		Transcript: TranscriptConfig{
			Dir:       "./data/transcripts",
			QueueSize: 1000,
		},
		Port:     "8000",
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// GOALCHAT_CONFIG if set, and then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("GOALCHAT_CONFIG", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIURL = getEnv("GOALCHAT_API_URL", c.APIURL)
	c.Token = getEnv("GOALCHAT_TOKEN", c.Token)
	c.Debug = getEnvBool("GOALCHAT_DEBUG", c.Debug)
	c.DBPath = getEnv("GOALCHAT_DB_PATH", c.DBPath)
	c.CacheTTL = getEnvDuration("GOALCHAT_CACHE_TTL", c.CacheTTL)

	c.Poll.InitialDelay = getEnvDuration("GOALCHAT_POLL_INITIAL_DELAY", c.Poll.InitialDelay)
	c.Poll.Interval = getEnvDuration("GOALCHAT_POLL_INTERVAL", c.Poll.Interval)
	c.Poll.MaxAttempts = getEnvInt("GOALCHAT_POLL_MAX_ATTEMPTS", c.Poll.MaxAttempts)
	c.SyncInterval = getEnvDuration("GOALCHAT_SYNC_INTERVAL", c.SyncInterval)
	c.HeartbeatInterval = getEnvDuration("GOALCHAT_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.RequestTimeout = getEnvDuration("GOALCHAT_REQUEST_TIMEOUT", c.RequestTimeout)

	c.Transcript.Dir = getEnv("GOALCHAT_TRANSCRIPT_DIR", c.Transcript.Dir)
	c.Transcript.QueueSize = getEnvInt("GOALCHAT_TRANSCRIPT_QUEUE_SIZE", c.Transcript.QueueSize)

	c.Port = getEnv("PORT", c.Port)
	if origins := getEnv("GOALCHAT_ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("GOALCHAT_API_URL cannot be empty")
	}
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GOALCHAT_API_URL %q is not an absolute URL", c.APIURL)
	}
	if c.Poll.InitialDelay < 0 {
		return errors.New("GOALCHAT_POLL_INITIAL_DELAY cannot be negative")
	}
	for name, d := range map[string]time.Duration{
		"GOALCHAT_POLL_INTERVAL":      c.Poll.Interval,
		"GOALCHAT_SYNC_INTERVAL":      c.SyncInterval,
		"GOALCHAT_HEARTBEAT_INTERVAL": c.HeartbeatInterval,
		"GOALCHAT_REQUEST_TIMEOUT":    c.RequestTimeout,
		"GOALCHAT_CACHE_TTL":          c.CacheTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Poll.MaxAttempts <= 0 {
		return errors.New("GOALCHAT_POLL_MAX_ATTEMPTS must be > 0")
	}
	if c.Transcript.QueueSize <= 0 {
		return errors.New("GOALCHAT_TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Debug mode forces debug logging.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
