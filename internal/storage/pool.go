package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)
)

// Supported values for Config.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite3  = "sqlite3"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds the backend configuration
type Config struct {
	Driver          string        // One of the Driver* constants
	DSN             string        // File path (SQLite), connection string (Postgres) or URL (Redis)
	Table           string        // Logical session table; trusted configuration only
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	BusyTimeout     time.Duration // SQLite busy timeout
}

// DefaultConfig returns a default configuration backed by a SQLite file.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite3,
		DSN:             "sessions.db",
		Table:           "sessions",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

func (c Config) isSQLite() bool {
	return c.Driver == DriverSQLite3 || c.Driver == DriverSQLite
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverSQLite3, DriverSQLite, DriverPostgres, DriverRedis:
	default:
		return invalidInput("unsupported driver %q", c.Driver)
	}

	if err := validTable(c.Table); err != nil {
		return err
	}

	if c.Driver != DriverMemory && c.DSN == "" {
		return invalidInput("dsn cannot be empty for driver %q", c.Driver)
	}

	if !c.isSQLite() {
		return nil
	}

	if c.MaxOpenConns <= 0 {
		return invalidInput("max open connections must be positive")
	}

	if c.MaxIdleConns < 0 {
		return invalidInput("max idle connections cannot be negative")
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return invalidInput("max idle connections cannot be greater than max open connections")
	}

	if c.ConnMaxLifetime <= 0 {
		return invalidInput("connection max lifetime must be positive")
	}

	if c.ConnMaxIdleTime <= 0 {
		return invalidInput("connection max idle time must be positive")
	}

	if c.ConnMaxIdleTime > c.ConnMaxLifetime {
		return invalidInput("connection max idle time cannot be greater than max lifetime")
	}

	if c.BusyTimeout <= 0 {
		return invalidInput("busy timeout must be positive")
	}

	return nil
}

// isMemoryPath reports whether dsn names a private in-memory SQLite database.
func isMemoryPath(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN appends the busy timeout and WAL pragmas in the syntax each
// driver understands.
func sqliteDSN(cfg Config) string {
	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	ms := cfg.BusyTimeout.Milliseconds()

	if cfg.Driver == DriverSQLite {
		return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			cfg.DSN, sep, ms)
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.DSN, sep, ms)
}

// OpenDatabase opens a SQLite database with the given configuration
func OpenDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if !cfg.isSQLite() {
		return nil, invalidInput("driver %q is not a SQLite driver", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Each connection to :memory: is its own database; pin a single one
	// and never recycle it.
	if isMemoryPath(cfg.DSN) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
