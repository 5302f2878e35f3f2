package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sessionstore-go/internal/session"
)

// SQLBackend stores sessions in a SQLite table through database/sql. It works
// with both the "sqlite3" (mattn) and "sqlite" (modernc) drivers.
//
// Layout: id TEXT PRIMARY KEY, data BLOB, expiry_date INTEGER (unix ms, NULL
// for sessions that never expire).
type SQLBackend struct {
	db    *sql.DB
	table string
	q     sqlQueries
}

type sqlQueries struct {
	createTable   string
	createIndex   string
	insert        string
	upsert        string
	get           string
	delete        string
	deleteExpired string
}

// NewSQLBackend returns a backend storing sessions in table. The table is
// created on first use.
func NewSQLBackend(db *sql.DB, table string) (*SQLBackend, error) {
	if db == nil {
		return nil, invalidInput("database handle is required")
	}
	if err := validTable(table); err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, table: table, q: buildSQLQueries(table)}, nil
}

func buildSQLQueries(table string) sqlQueries {
	return sqlQueries{
		createTable: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY NOT NULL,
				data BLOB NOT NULL,
				expiry_date INTEGER
			)`, table),
		createIndex: fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(expiry_date)`,
			expiryIndexName(table), table),
		insert: fmt.Sprintf(`
			INSERT INTO %s (id, data, expiry_date) VALUES (?, ?, ?)
			ON CONFLICT(id) DO NOTHING`, table),
		upsert: fmt.Sprintf(`
			INSERT INTO %s (id, data, expiry_date) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data, expiry_date = excluded.expiry_date`, table),
		get:    fmt.Sprintf(`SELECT data, expiry_date FROM %s WHERE id = ?`, table),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table),
		deleteExpired: fmt.Sprintf(`
			DELETE FROM %s
			WHERE expiry_date IS NOT NULL AND expiry_date <= ?`, table),
	}
}

// expiryIndexName derives the index name from the unqualified table name.
func expiryIndexName(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	return strings.Trim(table, `"`) + "_expiry_date_idx"
}

// toMillis normalizes timestamps into millisecond precision, rounding down.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// ceilTo rounds t up to a multiple of d. Stored expiries round up and sweep
// cutoffs round down, so a swept row always had expiry <= now.
func ceilTo(t time.Time, d time.Duration) time.Time {
	r := t.Truncate(d)
	if r.Before(t) {
		r = r.Add(d)
	}
	return r
}

// expiryMillis is the stored form of an expiry: unix ms, rounded up.
func expiryMillis(expiry time.Time) int64 {
	return toMillis(ceilTo(expiry, time.Millisecond))
}

func expiryArg(expiry *time.Time) any {
	if expiry == nil {
		return nil
	}
	return expiryMillis(*expiry)
}

// Table returns the configured table name.
func (s *SQLBackend) Table() string { return s.table }

// EnsureTable creates the table and its expiry index if they do not exist.
func (s *SQLBackend) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	if _, err := s.db.ExecContext(ctx, s.q.createIndex); err != nil {
		return fmt.Errorf("failed to create expiry index on %s: %w", s.table, err)
	}
	return nil
}

// Insert adds a row, reporting session.ErrCollision if the id exists.
func (s *SQLBackend) Insert(ctx context.Context, row session.Row) error {
	result, err := s.db.ExecContext(ctx, s.q.insert, string(row.ID), row.Data, expiryArg(row.Expiry))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", session.ErrCollision, row.ID)
	}
	return nil
}

// Upsert stores or replaces the row for row.ID.
func (s *SQLBackend) Upsert(ctx context.Context, row session.Row) error {
	if _, err := s.db.ExecContext(ctx, s.q.upsert, string(row.ID), row.Data, expiryArg(row.Expiry)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get loads a row by id; a missing row yields nil, nil.
func (s *SQLBackend) Get(ctx context.Context, id session.ID) (*session.Row, error) {
	var (
		data   []byte
		expiry sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q.get, string(id)).Scan(&data, &expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	row := &session.Row{ID: id, Data: data}
	if expiry.Valid {
		t := fromMillis(expiry.Int64)
		row.Expiry = &t
	}
	return row, nil
}

// Delete removes a row by id.
func (s *SQLBackend) Delete(ctx context.Context, id session.ID) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, string(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
