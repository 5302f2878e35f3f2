package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionstore-go/internal/session"
)

// Postgres error codes raised when two sessions race on CREATE TABLE IF NOT EXISTS.
const (
	pgUniqueViolation = "23505"
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
)

// PostgresBackend stores sessions in a PostgreSQL table through a pgx pool.
// The table may be schema-qualified (e.g. "app.sessions"); the schema must exist.
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
	q     sqlQueries
}

// NewPostgresBackend returns a Postgres-backed session table.
func NewPostgresBackend(pool *pgxpool.Pool, table string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, invalidInput("postgres pool is required")
	}
	if err := validTable(table); err != nil {
		return nil, err
	}
	return &PostgresBackend{pool: pool, table: table, q: buildPostgresQueries(table)}, nil
}

func buildPostgresQueries(table string) sqlQueries {
	return sqlQueries{
		createTable: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				data BYTEA NOT NULL,
				expiry_date TIMESTAMPTZ
			)`, table),
		createIndex: fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (expiry_date)`,
			expiryIndexName(table), table),
		insert: fmt.Sprintf(`
			INSERT INTO %s (id, data, expiry_date) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`, table),
		upsert: fmt.Sprintf(`
			INSERT INTO %s (id, data, expiry_date) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expiry_date = EXCLUDED.expiry_date`, table),
		get:    fmt.Sprintf(`SELECT data, expiry_date FROM %s WHERE id = $1`, table),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table),
		deleteExpired: fmt.Sprintf(`
			DELETE FROM %s
			WHERE expiry_date IS NOT NULL AND expiry_date <= $1`, table),
	}
}

// isCreateRace reports errors Postgres raises when a concurrent session
// created the same table or index between our existence check and insert
// into the catalog.
func isCreateRace(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgDuplicateTable, pgDuplicateObject:
		return true
	}
	return false
}

// EnsureTable creates the table and expiry index if missing.
func (s *PostgresBackend) EnsureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.q.createTable); err != nil && !isCreateRace(err) {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	if _, err := s.pool.Exec(ctx, s.q.createIndex); err != nil && !isCreateRace(err) {
		return fmt.Errorf("failed to create expiry index on %s: %w", s.table, err)
	}
	return nil
}

// Insert adds a row, reporting session.ErrCollision if the id exists.
func (s *PostgresBackend) Insert(ctx context.Context, row session.Row) error {
	tag, err := s.pool.Exec(ctx, s.q.insert, string(row.ID), row.Data, pgExpiry(row.Expiry))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", session.ErrCollision, row.ID)
	}
	return nil
}

// Upsert stores or replaces the row for row.ID.
func (s *PostgresBackend) Upsert(ctx context.Context, row session.Row) error {
	if _, err := s.pool.Exec(ctx, s.q.upsert, string(row.ID), row.Data, pgExpiry(row.Expiry)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get loads a row by id; a missing row yields nil, nil.
func (s *PostgresBackend) Get(ctx context.Context, id session.ID) (*session.Row, error) {
	row := session.Row{ID: id}
	err := s.pool.QueryRow(ctx, s.q.get, string(id)).Scan(&row.Data, &row.Expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	row.Expiry = utcPtr(row.Expiry)
	return &row, nil
}

// Delete removes a row by id.
func (s *PostgresBackend) Delete(ctx context.Context, id session.ID) error {
	if _, err := s.pool.Exec(ctx, s.q.delete, string(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes all expired rows in one statement.
func (s *PostgresBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.q.deleteExpired, pgCutoff(now))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// pgExpiry rounds an expiry up to the microsecond precision of TIMESTAMPTZ.
func pgExpiry(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := ceilTo(t.UTC(), time.Microsecond)
	return &u
}

// pgCutoff rounds a sweep cutoff down to microseconds.
func pgCutoff(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}
