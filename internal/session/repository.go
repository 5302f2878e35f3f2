package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sessionstore-go/internal/metrics"
)

// Backend is one database engine's implementation of the session table.
//
// Implementations must be safe for concurrent use; Repository adds no locking
// of its own and relies on the engine's per-row and bulk-delete atomicity.
type Backend interface {
	// EnsureTable creates the table if it does not exist. Concurrent calls
	// from several processes must all succeed.
	EnsureTable(ctx context.Context) error
	// Insert adds a new row. If the id is taken it returns an error wrapping
	// ErrCollision and leaves the existing row untouched.
	Insert(ctx context.Context, row Row) error
	// Upsert replaces payload and expiry for the id, inserting if needed.
	Upsert(ctx context.Context, row Row) error
	// Get returns the row, or nil when the id is absent.
	Get(ctx context.Context, id ID) (*Row, error)
	// Delete removes the row. Deleting an absent id is not an error.
	Delete(ctx context.Context, id ID) error
	// DeleteExpired removes every row with a non-null expiry <= now in a
	// single backend operation and returns how many rows went away.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repository performs session CRUD against a Backend. The first operation
// provisions the table; Create handles id collisions.
type Repository struct {
	backend     Backend
	newID       IDGenerator
	maxAttempts int
	provisioned atomic.Bool
}

// NewRepository wraps a backend. It fails with ErrConfiguration when the
// backend is nil or the create attempt bound is not positive.
func NewRepository(backend Backend, opts ...Option) (*Repository, error) {
	o := buildOptions(opts)
	return newRepository(backend, o)
}

func newRepository(backend Backend, o options) (*Repository, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrConfiguration)
	}
	if o.maxCreateAttempts < 1 {
		return nil, fmt.Errorf("%w: max create attempts must be positive", ErrConfiguration)
	}
	return &Repository{
		backend:     backend,
		newID:       o.newID,
		maxAttempts: o.maxCreateAttempts,
	}, nil
}

// EnsureTable provisions the table. After the first success it is a no-op;
// a failed attempt is retried by the next operation.
func (r *Repository) EnsureTable(ctx context.Context) error {
	if r.provisioned.Load() {
		return nil
	}
	if err := r.backend.EnsureTable(ctx); err != nil {
		return backendErr("ensure table", err)
	}
	r.provisioned.Store(true)
	return nil
}

// Create inserts a brand-new row and returns the id it was stored under.
// An empty id is generated; a colliding id, supplied or generated, is
// replaced by a fresh one up to the attempt bound.
func (r *Repository) Create(ctx context.Context, row Row) (ID, error) {
	if err := r.EnsureTable(ctx); err != nil {
		return "", err
	}
	if row.ID == "" {
		row.ID = r.newID()
	}

	for attempt := 1; ; attempt++ {
		err := r.backend.Insert(ctx, row)
		if err == nil {
			return row.ID, nil
		}
		if !errors.Is(err, ErrCollision) {
			return "", backendErr("create", err)
		}
		metrics.CreateCollisions.Inc()
		if attempt >= r.maxAttempts {
			return "", fmt.Errorf("create: %w: %w after %d attempts", ErrBackend, ErrRetriesExhausted, attempt)
		}
		row.ID = r.newID()
	}
}

// Save replaces payload and expiry for an id the caller already owns.
func (r *Repository) Save(ctx context.Context, row Row) error {
	if row.ID == "" {
		return fmt.Errorf("save: %w: id is required", ErrInvalidRecord)
	}
	if err := r.EnsureTable(ctx); err != nil {
		return err
	}
	if err := r.backend.Upsert(ctx, row); err != nil {
		return backendErr("save", err)
	}
	return nil
}

// Load returns the row for id, or nil when there is none.
func (r *Repository) Load(ctx context.Context, id ID) (*Row, error) {
	if err := r.EnsureTable(ctx); err != nil {
		return nil, err
	}
	row, err := r.backend.Get(ctx, id)
	if err != nil {
		return nil, backendErr("load", err)
	}
	return row, nil
}

// Delete removes the row for id. An absent id is a no-op.
func (r *Repository) Delete(ctx context.Context, id ID) error {
	if err := r.EnsureTable(ctx); err != nil {
		return err
	}
	if err := r.backend.Delete(ctx, id); err != nil {
		return backendErr("delete", err)
	}
	return nil
}

// DeleteExpired removes all rows that expired at or before now.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := r.EnsureTable(ctx); err != nil {
		return 0, err
	}
	n, err := r.backend.DeleteExpired(ctx, now)
	if err != nil {
		return 0, backendErr("delete expired", err)
	}
	return n, nil
}
