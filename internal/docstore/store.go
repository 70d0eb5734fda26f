// Package docstore is the durable key→document layer the memory subsystem sits
// on. Every operation addresses exactly one key; nothing spans keys.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ErrUnavailable wraps every backend I/O failure so callers can tell an
// unreachable store apart from bad input.
var ErrUnavailable = errors.New("document store unavailable")

// Store persists append-only lists and expiring counters.
type Store interface {
	// Append adds value to the end of the list at key, creating it if absent.
	Append(ctx context.Context, key string, value []byte) error
	// Tail returns the last n values of the list at key in append order.
	// n <= 0 returns the whole list. A missing key yields an empty result.
	Tail(ctx context.Context, key string, n int) ([][]byte, error)
	// Exists reports whether a list is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Increment atomically adds one to the counter at key and returns the new
	// value. A counter created by this call expires after ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete removes the list or counter stored at key.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Backend       string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	SQLitePath    string
}

// New opens the configured backend. An empty backend picks postgres when a
// database URL is present and the in-memory store otherwise.
func New(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "memory"
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			backend = "postgres"
		}
	}

	switch backend {
	case "memory":
		return NewInMemoryStore(), nil
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, errors.New("redis address is required for redis backend")
		}
		return NewRedisStore(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("database url is required for postgres backend")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("sqlite path is required for sqlite backend")
		}
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// counterSweepInterval is how many increments the SQL backends serve between
// deletions of expired counter rows.
const counterSweepInterval = 64

// sweepCadence reports every n-th call as due.
type sweepCadence struct {
	every uint64
	calls atomic.Uint64
}

func (c *sweepCadence) due() bool {
	every := c.every
	if every == 0 {
		every = counterSweepInterval
	}
	return c.calls.Add(1)%every == 0
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
