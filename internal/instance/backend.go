package instance

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/parley/internal/config"
	"github.com/dyluth/parley/pkg/store"
)

// Backend is a backing store that owns resources the caller must release.
type Backend interface {
	store.Backend
	io.Closer
}

// GetRedisHost returns the appropriate Redis hostname for the current environment.
// Inside a container it returns "host.docker.internal" to reach the host's
// published ports. Otherwise, it returns "localhost".
func GetRedisHost() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "host.docker.internal"
	}
	return "localhost"
}

// RedisOptions parses url into client options. An empty url points at the
// default port on GetRedisHost().
func RedisOptions(url string) (*redis.Options, error) {
	if url == "" {
		url = fmt.Sprintf("redis://%s:6379", GetRedisHost())
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %q: %w", url, err)
	}
	return opts, nil
}

// OpenBackend constructs the backend selected by cfg.Backend and verifies it
// is reachable. name scopes Redis keys and must already be valid.
func OpenBackend(ctx context.Context, cfg *config.Config, name string) (Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendMemory, "":
		return store.NewMemoryBackend(), nil

	case config.BackendRedis:
		url := ""
		if cfg.Backend.Redis != nil {
			url = cfg.Backend.Redis.URL
		}
		opts, err := RedisOptions(url)
		if err != nil {
			return nil, err
		}
		b, err := store.NewRedisBackend(opts, name)
		if err != nil {
			return nil, err
		}
		if err := b.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
		}
		return b, nil

	case config.BackendSQLite:
		path := config.DefaultSQLitePath
		if cfg.Backend.SQLite != nil && cfg.Backend.SQLite.Path != "" {
			path = cfg.Backend.SQLite.Path
		}
		b, err := store.NewSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.BackendPostgres:
		if cfg.Backend.Postgres == nil || cfg.Backend.Postgres.DSN == "" {
			return nil, fmt.Errorf("backend.postgres.dsn is required for the postgres backend")
		}
		b, err := store.NewPostgresBackend(ctx, cfg.Backend.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Backend.Type)
	}
}
