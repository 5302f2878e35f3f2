package storage

import (
	"context"
	"fmt"
	"time"
)

// DeleteExpired removes every session whose expiry is at or before now in a
// single statement, so concurrent sweeps only ever see rows disappear.
func (s *SQLBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q.deleteExpired, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}

	return result.RowsAffected()
}
