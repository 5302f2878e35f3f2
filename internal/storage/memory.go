package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sessionstore-go/internal/session"
)

// MemoryBackend is an in-process implementation of session.Backend.
// Data is lost when the process exits.
type MemoryBackend struct {
	mu          sync.RWMutex
	rows        map[session.ID]session.Row
	provisioned bool
}

// NewMemoryBackend creates a new MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows: make(map[session.ID]session.Row),
	}
}

// EnsureTable marks the table as provisioned.
func (m *MemoryBackend) EnsureTable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisioned = true
	return nil
}

// Provisioned reports whether EnsureTable has run.
func (m *MemoryBackend) Provisioned() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provisioned
}

// Insert adds a row, reporting session.ErrCollision if the id exists.
func (m *MemoryBackend) Insert(ctx context.Context, row session.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[row.ID]; ok {
		return fmt.Errorf("%w: %s", session.ErrCollision, row.ID)
	}
	m.rows[row.ID] = cloneRow(row)
	return nil
}

// Upsert stores or replaces the row for row.ID.
func (m *MemoryBackend) Upsert(ctx context.Context, row session.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = cloneRow(row)
	return nil
}

// Get returns a copy of the row, or nil if absent. Expired rows are still returned.
func (m *MemoryBackend) Get(ctx context.Context, id session.ID) (*session.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	out := cloneRow(row)
	return &out, nil
}

// Delete removes a row.
func (m *MemoryBackend) Delete(ctx context.Context, id session.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

// DeleteExpired removes all expired rows under a single lock.
func (m *MemoryBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.rows {
		if row.Expiry != nil && !row.Expiry.After(now) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func cloneRow(row session.Row) session.Row {
	out := session.Row{ID: row.ID, Data: append([]byte(nil), row.Data...)}
	if row.Expiry != nil {
		t := *row.Expiry
		out.Expiry = &t
	}
	return out
}
