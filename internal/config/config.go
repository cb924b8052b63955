package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend types accepted in backend.type
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

const (
	// DefaultRedisURL is used when backend.redis.url is not set
	DefaultRedisURL = "redis://localhost:6379"

	// DefaultSQLitePath is used when backend.sqlite.path is not set
	DefaultSQLitePath = "parley.db"

	// RedisURLEnv overrides backend.redis.url when set
	RedisURLEnv = "PARLEY_REDIS_URL"
)

// DefaultYAML is the commented configuration written by `parley init`.
//
//go:embed default.yml
var DefaultYAML []byte

// Config represents the top-level parley.yml configuration
type Config struct {
	Version   string                   `yaml:"version"`
	Instance  string                   `yaml:"instance,omitempty"`
	LogLevel  string                   `yaml:"log_level,omitempty"`
	Backend   BackendConfig            `yaml:"backend"`
	Pipelines map[string][]StageConfig `yaml:"pipelines,omitempty"`
}

// BackendConfig selects and configures the backing store
type BackendConfig struct {
	Type     string          `yaml:"type"`
	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SQLiteConfig configures the SQLite backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the PostgreSQL backend
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// StageConfig names one pipeline stage and its parameters
type StageConfig struct {
	Stage string `yaml:"stage"`
	Limit int    `yaml:"limit,omitempty"` // max-length
	Text  string `yaml:"text,omitempty"`  // prefix
}

// Default returns a valid configuration using the in-memory backend.
func Default() *Config {
	c := &Config{
		Version: "1.0",
		Backend: BackendConfig{Type: BackendMemory},
	}
	_ = c.Validate()
	return c
}

// Validate performs strict validation on the configuration, filling in
// defaults for optional fields.
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (must be 'debug', 'info', 'warn' or 'error')", c.LogLevel)
	}

	if err := c.Backend.Validate(); err != nil {
		return err
	}

	for name, stages := range c.Pipelines {
		if name == "" {
			return fmt.Errorf("pipeline name cannot be empty")
		}
		for i, s := range stages {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("pipeline '%s' stage %d: %w", name, i, err)
			}
		}
	}

	return nil
}

// Validate checks the backend section and applies defaults
func (b *BackendConfig) Validate() error {
	if b.Type == "" {
		b.Type = BackendMemory
	}

	switch b.Type {
	case BackendMemory:
	case BackendRedis:
		if b.Redis == nil {
			b.Redis = &RedisConfig{}
		}
		if b.Redis.URL == "" {
			b.Redis.URL = DefaultRedisURL
		}
	case BackendSQLite:
		if b.SQLite == nil {
			b.SQLite = &SQLiteConfig{}
		}
		if b.SQLite.Path == "" {
			b.SQLite.Path = DefaultSQLitePath
		}
	case BackendPostgres:
		if b.Postgres == nil || b.Postgres.DSN == "" {
			return fmt.Errorf("backend.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid backend type: %s (must be 'memory', 'redis', 'sqlite' or 'postgres')", b.Type)
	}

	return nil
}

// Validate checks a single stage entry
func (s *StageConfig) Validate() error {
	if s.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	if s.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", s.Limit)
	}
	return nil
}

// Parse decodes, applies environment overrides to, and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates parley.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func applyEnv(c *Config) {
	url := os.Getenv(RedisURLEnv)
	if url == "" {
		return
	}
	if c.Backend.Redis == nil {
		c.Backend.Redis = &RedisConfig{}
	}
	c.Backend.Redis.URL = url
}
