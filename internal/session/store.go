// Package session persists opaque session records on behalf of web
// middleware.
//
// A Store encodes payloads with a Codec and writes them through a Repository,
// which in turn drives a database-specific Backend. A Sweeper removes expired
// rows in the background. Expiry is advisory: Load returns a record even if
// its expiry has passed, until a sweep or an explicit Delete removes it.
//
// The table name given to a Backend is trusted configuration and is placed
// into queries verbatim. Never build it from request input.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sessionstore-go/internal/metrics"
)

// Store is the facade the calling middleware uses.
type Store struct {
	repo   *Repository
	codec  Codec
	logger *slog.Logger
	now    func() time.Time
	opts   options
}

// NewStore builds a Store over backend.
func NewStore(backend Backend, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	repo, err := newRepository(backend, o)
	if err != nil {
		return nil, err
	}
	return &Store{
		repo:   repo,
		codec:  o.codec,
		logger: o.logger,
		now:    o.now,
		opts:   o,
	}, nil
}

// Repository exposes the underlying repository.
func (s *Store) Repository() *Repository { return s.repo }

// Create stores a new record and returns its id. rec.ID is updated in place
// when the store had to generate or replace it.
func (s *Store) Create(ctx context.Context, rec *Record) (ID, error) {
	defer observe("create", time.Now())

	if rec == nil {
		return "", track("create", fmt.Errorf("create: %w: nil record", ErrInvalidRecord))
	}
	data, err := s.encode(rec.Data)
	if err != nil {
		return "", track("create", err)
	}

	id, err := s.repo.Create(ctx, Row{ID: rec.ID, Data: data, Expiry: rec.Expiry})
	if err != nil {
		return "", track("create", err)
	}
	if rec.ID != "" && rec.ID != id {
		s.logger.DebugContext(ctx, "session id collided on create, reassigned", "requested", rec.ID, "assigned", id)
	}
	rec.ID = id
	return id, track("create", nil)
}

// Save replaces the payload and expiry stored under rec.ID.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	defer observe("save", time.Now())

	if rec == nil {
		return track("save", fmt.Errorf("save: %w: nil record", ErrInvalidRecord))
	}
	data, err := s.encode(rec.Data)
	if err != nil {
		return track("save", err)
	}
	return track("save", s.repo.Save(ctx, Row{ID: rec.ID, Data: data, Expiry: rec.Expiry}))
}

// Load returns the record for id, or nil if there is none. Expired records
// are returned as-is until swept.
func (s *Store) Load(ctx context.Context, id ID) (*Record, error) {
	defer observe("load", time.Now())

	row, err := s.repo.Load(ctx, id)
	if err != nil || row == nil {
		return nil, track("load", err)
	}

	data, err := s.codec.Decode(row.Data)
	if err != nil {
		return nil, track("load", fmt.Errorf("load %s: %w: %w", id, ErrDecode, err))
	}
	return &Record{ID: row.ID, Data: data, Expiry: row.Expiry}, track("load", nil)
}

// Delete removes the record for id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id ID) error {
	defer observe("delete", time.Now())
	return track("delete", s.repo.Delete(ctx, id))
}

// DeleteExpired removes every record that expired as of the store's clock.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	defer observe("delete_expired", time.Now())
	n, err := s.repo.DeleteExpired(ctx, s.now())
	return n, track("delete_expired", err)
}

// NewSweeper returns a sweeper bound to this store's repository, logger and clock.
func (s *Store) NewSweeper(interval time.Duration) (*Sweeper, error) {
	return newSweeper(s.repo, interval, s.opts)
}

// ContinuouslyDeleteExpired sweeps every interval until ctx is cancelled.
// Run it on its own goroutine. An invalid interval fails immediately.
func (s *Store) ContinuouslyDeleteExpired(ctx context.Context, interval time.Duration) error {
	sw, err := s.NewSweeper(interval)
	if err != nil {
		return err
	}
	return sw.Run(ctx)
}

func (s *Store) encode(data map[string]any) ([]byte, error) {
	b, err := s.codec.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return b, nil
}

func observe(op string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func track(op string, err error) error {
	metrics.Operations.WithLabelValues(op, metrics.Result(err)).Inc()
	return err
}
