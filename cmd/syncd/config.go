package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Values merge in priority order:
// environment > config file > defaults.
type Config struct {
	// ListenAddr is the address the admin HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Remote RemoteConfig `yaml:"remote"`
	Feed   FeedConfig   `yaml:"feed"`
	Sync   SyncConfig   `yaml:"sync"`
	Export ExportConfig `yaml:"export"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is one of text, json.
	Format string `yaml:"format"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// DSN selects the backend: "memory", a postgres:// URL, or a
	// filesystem path opened as a badger database.
	DSN string `yaml:"dsn"`
}

// RemoteConfig points the sync applier at the fitness coaching API.
type RemoteConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	DeviceID string `yaml:"device_id"`
}

// FeedConfig controls the WebSocket event feed.
type FeedConfig struct {
	Enabled bool `yaml:"enabled"`
	// Tokens are the API keys accepted on the feed. An empty list
	// leaves the feed open, which is only sensible on loopback.
	Tokens []FeedToken `yaml:"tokens"`
}

// FeedToken is one accepted feed API key and the identity it grants.
type FeedToken struct {
	Token   string   `yaml:"token"`
	Subject string   `yaml:"subject"`
	Scopes  []string `yaml:"scopes"`
}

// SyncConfig tunes the agent's worker pool and retention.
type SyncConfig struct {
	Concurrency            int      `yaml:"concurrency"`
	EntityTypes            []string `yaml:"entity_types"`
	PollInterval           Duration `yaml:"poll_interval"`
	MaxRetries             int      `yaml:"max_retries"`
	HeartbeatInterval      Duration `yaml:"heartbeat_interval"`
	StaleInflightThreshold Duration `yaml:"stale_inflight_threshold"`
	SyncedRetention        Duration `yaml:"synced_retention"`
	DeadLetterRetention    Duration `yaml:"dead_letter_retention"`
	ShutdownTimeout        Duration `yaml:"shutdown_timeout"`
}

// ExportConfig controls dead-letter export output.
type ExportConfig struct {
	// Dir is where export files are written. Empty means the OS temp
	// directory.
	Dir string `yaml:"dir"`
}

// Duration wraps time.Duration so YAML values can be written as "30s"
// or "5m" rather than nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the daemon defaults. The remote URL has no
// default; it must come from the config file or FITSYNC_REMOTE_URL.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8484",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			DSN: "fitsync.db",
		},
		Feed: FeedConfig{
			Enabled: true,
		},
		Sync: SyncConfig{
			Concurrency:            4,
			EntityTypes:            []string{"workout", "workout_log", "readiness", "user_profile"},
			PollInterval:           Duration(5 * time.Second),
			MaxRetries:             5,
			HeartbeatInterval:      Duration(15 * time.Second),
			StaleInflightThreshold: Duration(60 * time.Second),
			SyncedRetention:        Duration(24 * time.Hour),
			DeadLetterRetention:    Duration(30 * 24 * time.Hour),
			ShutdownTimeout:        Duration(30 * time.Second),
		},
	}
}

// LoadConfig loads the daemon configuration. A .env file in the working
// directory is loaded first so FITSYNC_* overrides can live there; a
// missing config file is fine, the defaults carry.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadConfigFromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	setString("FITSYNC_LISTEN_ADDR", &cfg.ListenAddr)
	setString("FITSYNC_LOG_LEVEL", &cfg.Log.Level)
	setString("FITSYNC_LOG_FORMAT", &cfg.Log.Format)
	setString("FITSYNC_STORE_DSN", &cfg.Store.DSN)
	setString("FITSYNC_REMOTE_URL", &cfg.Remote.URL)
	setString("FITSYNC_REMOTE_TOKEN", &cfg.Remote.Token)
	setString("FITSYNC_DEVICE_ID", &cfg.Remote.DeviceID)
	setString("FITSYNC_EXPORT_DIR", &cfg.Export.Dir)

	if v := os.Getenv("FITSYNC_FEED_ENABLED"); v != "" {
		cfg.Feed.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FITSYNC_FEED_TOKEN"); v != "" {
		cfg.Feed.Tokens = append(cfg.Feed.Tokens, FeedToken{
			Token:   v,
			Subject: "env",
			Scopes:  []string{"*"},
		})
	}
	if v := os.Getenv("FITSYNC_ENTITY_TYPES"); v != "" {
		var types []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		cfg.Sync.EntityTypes = types
	}

	setInt("FITSYNC_CONCURRENCY", &cfg.Sync.Concurrency)
	setInt("FITSYNC_MAX_RETRIES", &cfg.Sync.MaxRetries)
	setDuration("FITSYNC_POLL_INTERVAL", &cfg.Sync.PollInterval)
	setDuration("FITSYNC_HEARTBEAT_INTERVAL", &cfg.Sync.HeartbeatInterval)
	setDuration("FITSYNC_STALE_INFLIGHT_THRESHOLD", &cfg.Sync.StaleInflightThreshold)
	setDuration("FITSYNC_SYNCED_RETENTION", &cfg.Sync.SyncedRetention)
	setDuration("FITSYNC_DEAD_LETTER_RETENTION", &cfg.Sync.DeadLetterRetention)
	setDuration("FITSYNC_SHUTDOWN_TIMEOUT", &cfg.Sync.ShutdownTimeout)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if len(c.Sync.EntityTypes) == 0 {
		return fmt.Errorf("sync.entity_types must not be empty")
	}
	if c.Sync.PollInterval.Std() <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive, got %s", c.Sync.PollInterval.Std())
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.HeartbeatInterval.Std() <= 0 {
		return fmt.Errorf("sync.heartbeat_interval must be positive, got %s", c.Sync.HeartbeatInterval.Std())
	}
	if c.Sync.StaleInflightThreshold.Std() <= c.Sync.HeartbeatInterval.Std() {
		return fmt.Errorf("sync.stale_inflight_threshold (%s) must exceed sync.heartbeat_interval (%s)",
			c.Sync.StaleInflightThreshold.Std(), c.Sync.HeartbeatInterval.Std())
	}
	if c.Sync.ShutdownTimeout.Std() <= 0 {
		return fmt.Errorf("sync.shutdown_timeout must be positive, got %s", c.Sync.ShutdownTimeout.Std())
	}
	for i, tok := range c.Feed.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("feed.tokens[%d].token is required", i)
		}
	}
	return nil
}

// LogLevel maps the configured level onto slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
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
