package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPort           = 4567
	DefaultHTTPPort       = 8080
	DefaultReadTimeout    = 5 * time.Second
	DefaultMaxBodyBytes   = 1 << 20
	DefaultSnapshotPath   = "./data/aggregation/cache.json"
	DefaultSweepInterval  = time.Second
	DefaultExpiration     = 15 * time.Second
	DefaultMergedTitle    = "Aggregated feed"
	DefaultMergedID       = "urn:syndicate:aggregate"
	DefaultStreamInterval = 5 * time.Second
	DefaultAuthHeader     = "x-api-key"
)

// Config is the root of the configuration file.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

// LogConfig controls process logging.
type LogConfig struct {
	// Level is one of: debug | info | warn | error. Defaults to info.
	Level string `yaml:"level"`
}

// SlogLevel maps Level onto a slog.Level. Unknown values map to info;
// validate rejects them before this is reached.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// Port is the TCP port of the feed protocol listener (default 4567).
	Port int `yaml:"port"`

	// HTTPPort serves the status API, the websocket stream and /metrics
	// (default 8080). Zero disables the HTTP server.
	HTTPPort int `yaml:"http_port"`

	// ReadTimeout bounds how long a protocol connection may take to send
	// its request (default 5s).
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MaxBodyBytes caps a request body (default 1 MiB). Zero means unlimited.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxConnections caps concurrently served protocol connections.
	// Zero means unlimited.
	MaxConnections int `yaml:"max_connections"`

	// AcceptRate limits accepted connections per second. Zero means unlimited.
	AcceptRate float64 `yaml:"accept_rate"`

	// AcceptBurst is the token bucket size used with AcceptRate.
	AcceptBurst int `yaml:"accept_burst"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Merged   MergedConfig   `yaml:"merged"`
	Stream   StreamConfig   `yaml:"stream"`
	Auth     AuthConfig     `yaml:"auth"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// SnapshotConfig controls durable state.
type SnapshotConfig struct {
	// Path of the snapshot file. Its directory is created on first save.
	Path string `yaml:"path"`

	// FailFast makes a persistence failure stop the process with a
	// non-zero exit instead of only failing the affected request.
	FailFast bool `yaml:"fail_fast"`
}

// SweeperConfig controls eviction of silent sources.
type SweeperConfig struct {
	// Interval between sweeps (default 1s).
	Interval time.Duration `yaml:"interval"`

	// Expiration is how long a source may stay silent before its record
	// is removed (default 15s). Reloadable.
	Expiration time.Duration `yaml:"expiration"`
}

// MergedConfig sets the header of the merged feed.
type MergedConfig struct {
	Title string `yaml:"title"`
	ID    string `yaml:"id"`
}

// StreamConfig controls the websocket feed stream.
type StreamConfig struct {
	// Interval between pushes to connected clients (default 5s).
	Interval time.Duration `yaml:"interval"`
}

// AuthConfig controls access to the HTTP status API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header carries the key on requests. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// NotifyConfig lists webhook targets told about source registration and
// eviction.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// Load reads and parses the config file at path. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Port:         DefaultPort,
			HTTPPort:     DefaultHTTPPort,
			ReadTimeout:  DefaultReadTimeout,
			MaxBodyBytes: DefaultMaxBodyBytes,
			Snapshot:     SnapshotConfig{Path: DefaultSnapshotPath},
			Sweeper: SweeperConfig{
				Interval:   DefaultSweepInterval,
				Expiration: DefaultExpiration,
			},
			Merged: MergedConfig{Title: DefaultMergedTitle, ID: DefaultMergedID},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
			Auth:   AuthConfig{Mode: "none", Header: DefaultAuthHeader},
		},
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}

	s := cfg.Server
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", s.Port)
	}
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [0, 65535]", s.HTTPPort)
	}
	if s.HTTPPort == s.Port {
		return fmt.Errorf("server.http_port must differ from server.port (%d)", s.Port)
	}
	if s.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}
	if s.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if s.AcceptRate < 0 || s.AcceptBurst < 0 {
		return fmt.Errorf("server.accept_rate and server.accept_burst must not be negative")
	}
	if s.Snapshot.Path == "" {
		return fmt.Errorf("server.snapshot.path is required")
	}
	if s.Sweeper.Interval <= 0 {
		return fmt.Errorf("server.sweeper.interval must be positive")
	}
	if s.Sweeper.Expiration <= 0 {
		return fmt.Errorf("server.sweeper.expiration must be positive")
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	switch s.Auth.Mode {
	case "none", "":
	case "apikey":
		if s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when server.auth.mode is apikey")
		}
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	for i, wh := range s.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.notify.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("server.notify.webhooks[%d].url_env is required", i)
		}
	}
	return nil
}
