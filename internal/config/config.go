package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "TOKENS_"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverMemory   = "memory"
)

// Config holds application configuration.
type Config struct {
	Store  StoreConfig  `koanf:"store"`
	DB     DBConfig     `koanf:"db"`
	SQLite SQLiteConfig `koanf:"sqlite"`
	Badger BadgerConfig `koanf:"badger"`
	Token  TokenConfig  `koanf:"token"`
	Log    LogConfig    `koanf:"log"`
}

// StoreConfig selects the token store backend.
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type BadgerConfig struct {
	Dir string `koanf:"dir"`
}

// TokenConfig holds token generation defaults.
type TokenConfig struct {
	TTL         time.Duration `koanf:"ttl"`
	Size        int           `koanf:"size"`
	MaxAttempts int           `koanf:"max_attempts"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	return map[string]any{
		"store.driver": DriverPostgres,

		// Database defaults (matches podman setup: make postgres-start)
		"db.host":     "localhost",
		"db.port":     25432,
		"db.user":     "postgres",
		"db.password": "postgres",
		"db.name":     "simple_tokens",
		"db.sslmode":  "disable",

		"sqlite.path": "tokens.db",
		"badger.dir":  "tokens-data",

		"token.ttl":          "48h",
		"token.size":         12,
		"token.max_attempts": 1000,

		"log.level":  "info",
		"log.format": "json",
	}
}

// Load loads configuration from defaults, the YAML file at path (skipped
// when path is empty) and TOKENS_ environment variables, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TOKENS_TOKEN_MAX_ATTEMPTS to token.max_attempts. Only the
// first underscore separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverBadger, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Token.Size < 1 {
		return errors.New("token.size must be at least 1")
	}
	if c.Token.TTL < 0 {
		return errors.New("token.ttl must not be negative")
	}
	if c.Token.MaxAttempts < 1 {
		return errors.New("token.max_attempts must be at least 1")
	}
	return nil
}

// IsSQL reports whether the configured driver is backed by database/sql.
func (c *Config) IsSQL() bool {
	return c.Store.Driver == DriverPostgres || c.Store.Driver == DriverSQLite
}

// mapProvider is a koanf provider over an in-memory map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

// Read unflattens the dotted keys so they merge with nested file values.
func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any)
	for key, value := range m {
		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[p] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return out, nil
}
