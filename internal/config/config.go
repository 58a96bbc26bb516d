// ABOUTME: Configuration loading and parsing for ticketd
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MinSecretLength is the minimum length of cookie and bearer secrets.
const MinSecretLength = 32

// Ticket store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTicketTTL            = 7 * 24 * time.Hour
	DefaultRefreshInterval      = time.Minute
	DefaultSessionMaxAge        = 30 * 24 * time.Hour
	DefaultHousekeepingInterval = 10 * time.Minute
)

// Config represents the complete ticketd configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Tickets      TicketsConfig      `yaml:"tickets" toml:"tickets"`
	Redis        RedisConfig        `yaml:"redis" toml:"redis"`
	Cookie       CookieConfig       `yaml:"cookie" toml:"cookie"`
	Bearer       BearerConfig       `yaml:"bearer" toml:"bearer"`
	Session      SessionConfig      `yaml:"session" toml:"session"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping" toml:"housekeeping"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// TicketsConfig controls where tickets live and how long they last
type TicketsConfig struct {
	Backend string `yaml:"backend" toml:"backend"`

	TTL             time.Duration `yaml:"-" toml:"-"`
	RefreshInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TTLRaw             string `yaml:"ttl" toml:"ttl"`
	RefreshIntervalRaw string `yaml:"refresh_interval" toml:"refresh_interval"`
}

// RedisConfig holds the Redis connection used by the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// CookieConfig holds the signed auth cookie settings
type CookieConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Secret   string `yaml:"secret" toml:"secret"`
	BlockKey string `yaml:"block_key" toml:"block_key"` // optional AES key (16, 24 or 32 bytes)
	Domain   string `yaml:"domain" toml:"domain"`
	Secure   bool   `yaml:"secure" toml:"secure"`

	MaxAge    time.Duration `yaml:"-" toml:"-"`
	MaxAgeRaw string        `yaml:"max_age" toml:"max_age"`
}

// BearerConfig enables Authorization: Bearer tokens for API clients
type BearerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Secret  string `yaml:"secret" toml:"secret"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// SessionConfig holds server-side session settings
type SessionConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	CookieName string `yaml:"cookie_name" toml:"cookie_name"`

	MaxAge    time.Duration `yaml:"-" toml:"-"`
	MaxAgeRaw string        `yaml:"max_age" toml:"max_age"`
}

// HousekeepingConfig controls expired ticket and session cleanup
type HousekeepingConfig struct {
	Interval    time.Duration `yaml:"-" toml:"-"`
	IntervalRaw string        `yaml:"interval" toml:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(expandEnvVars(string(data)), filepath.Ext(path) == ".toml")
}

// Parse decodes already-expanded configuration text, applies defaults and validates it.
func Parse(text string, isTOML bool) (*Config, error) {
	var cfg Config
	if isTOML {
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location: $TICKETD_CONFIG, else
// $XDG_CONFIG_HOME/ticketd/config.yaml, else ~/.config/ticketd/config.yaml.
func DefaultPath() string {
	if path := os.Getenv("TICKETD_CONFIG"); path != "" {
		return path
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "ticketd", "config.yaml")
}

// DatabasePath returns the SQLite path to open. TICKETD_DB_PATH overrides
// database.path so the server and the CLI always agree.
func DatabasePath(cfg *Config) string {
	if envPath := os.Getenv("TICKETD_DB_PATH"); envPath != "" {
		return envPath
	}
	return cfg.Database.Path
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Tickets.Backend == "" {
		c.Tickets.Backend = BackendSQLite
	}
	if c.Tickets.TTL == 0 {
		c.Tickets.TTL = DefaultTicketTTL
	}
	if c.Tickets.RefreshInterval == 0 {
		c.Tickets.RefreshInterval = DefaultRefreshInterval
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "ticketd"
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = "auth"
	}
	if c.Bearer.TTL == 0 {
		c.Bearer.TTL = c.Tickets.TTL
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "session"
	}
	if c.Session.MaxAge == 0 {
		c.Session.MaxAge = DefaultSessionMaxAge
	}
	if c.Housekeeping.Interval == 0 {
		c.Housekeeping.Interval = DefaultHousekeepingInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Cookie.Secret) < MinSecretLength {
		return fmt.Errorf("cookie.secret must be at least %d bytes", MinSecretLength)
	}
	switch len(c.Cookie.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("cookie.block_key must be 16, 24 or 32 bytes")
	}

	switch c.Tickets.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when tickets.backend is %q", BackendRedis)
		}
	default:
		return fmt.Errorf("tickets.backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.Tickets.Backend)
	}

	if c.Tickets.TTL < 0 || c.Tickets.RefreshInterval < 0 {
		return fmt.Errorf("tickets.ttl and tickets.refresh_interval must not be negative")
	}
	if c.Tickets.RefreshInterval >= c.Tickets.TTL {
		return fmt.Errorf("tickets.refresh_interval must be shorter than tickets.ttl")
	}

	if c.Cookie.MaxAge < 0 {
		return fmt.Errorf("cookie.max_age must not be negative")
	}
	if c.Session.MaxAge < 0 {
		return fmt.Errorf("session.max_age must not be negative")
	}
	if c.Bearer.TTL < 0 {
		return fmt.Errorf("bearer.ttl must not be negative")
	}
	if c.Housekeeping.Interval <= 0 {
		return fmt.Errorf("housekeeping.interval must be positive")
	}

	if c.Bearer.Enabled && len(c.Bearer.Secret) < MinSecretLength {
		return fmt.Errorf("bearer.secret must be at least %d bytes when bearer is enabled", MinSecretLength)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"tickets.ttl", cfg.Tickets.TTLRaw, &cfg.Tickets.TTL},
		{"tickets.refresh_interval", cfg.Tickets.RefreshIntervalRaw, &cfg.Tickets.RefreshInterval},
		{"cookie.max_age", cfg.Cookie.MaxAgeRaw, &cfg.Cookie.MaxAge},
		{"bearer.ttl", cfg.Bearer.TTLRaw, &cfg.Bearer.TTL},
		{"session.max_age", cfg.Session.MaxAgeRaw, &cfg.Session.MaxAge},
		{"housekeeping.interval", cfg.Housekeeping.IntervalRaw, &cfg.Housekeeping.Interval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
