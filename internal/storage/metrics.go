package storage

import (
	"context"
	"fmt"
	"time"
)

// Stats describes the contents of a session table at a point in time.
type Stats struct {
	Total       int64     // Rows in the table
	Expiring    int64     // Rows with an expiry set
	Expired     int64     // Rows whose expiry is at or before CollectedAt
	CollectedAt time.Time // When these stats were collected
}

// StatsReporter is implemented by backends that can summarize their table.
type StatsReporter interface {
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

// Stats counts the session table's rows.
func (s *SQLBackend) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{CollectedAt: now.UTC()}

	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(expiry_date),
			COUNT(CASE WHEN expiry_date <= ? THEN 1 END)
		FROM %s
	`, s.table), toMillis(now)).Scan(&stats.Total, &stats.Expiring, &stats.Expired)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	return stats, nil
}

// Stats counts the session table's rows.
func (s *PostgresBackend) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{CollectedAt: now.UTC()}

	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(expiry_date),
			COUNT(*) FILTER (WHERE expiry_date <= $1)
		FROM %s
	`, s.table), pgCutoff(now)).Scan(&stats.Total, &stats.Expiring, &stats.Expired)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	return stats, nil
}

// Stats counts the stored rows.
func (m *MemoryBackend) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{CollectedAt: now.UTC(), Total: int64(len(m.rows))}
	for _, row := range m.rows {
		if row.Expiry == nil {
			continue
		}
		stats.Expiring++
		if !row.Expiry.After(now) {
			stats.Expired++
		}
	}
	return stats, nil
}
