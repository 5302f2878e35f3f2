// Package storage implements session.Backend for the supported database
// engines: SQLite (mattn/go-sqlite3 or modernc.org/sqlite), PostgreSQL,
// Redis, and an in-process map for tests and demos.
//
// Every backend stores one row per session id in a single logical table
// named by configuration. That name is interpolated into queries as-is;
// it must come from trusted configuration, never from request input.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sessionstore-go/internal/session"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// invalidInput marks a setup error as both a storage input problem and a
// session configuration error.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidInput, session.ErrConfiguration, fmt.Sprintf(format, args...))
}

func validTable(table string) error {
	if strings.TrimSpace(table) == "" {
		return invalidInput("table name cannot be empty")
	}
	return nil
}

// Handle is an opened backend together with the resources it owns.
type Handle struct {
	Backend session.Backend
	closer  func() error
}

// Close releases the connection pool or client behind the backend.
func (h *Handle) Close() error {
	if h == nil || h.closer == nil {
		return nil
	}
	return h.closer()
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Driver {
	case DriverMemory:
		return &Handle{Backend: NewMemoryBackend()}, nil

	case DriverSQLite3, DriverSQLite:
		db, err := OpenDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend, err := NewSQLBackend(db, cfg.Table)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Handle{Backend: backend, closer: db.Close}, nil

	case DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		backend, err := NewPostgresBackend(pool, cfg.Table)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &Handle{Backend: backend, closer: func() error { pool.Close(); return nil }}, nil

	case DriverRedis:
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		backend, err := NewRedisBackend(client, cfg.Table)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &Handle{Backend: backend, closer: client.Close}, nil
	}

	return nil, invalidInput("unsupported driver %q", cfg.Driver)
}
