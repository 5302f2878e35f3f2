package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sessionstore-go/internal/metrics"
)

// ExpiredDeleter is the part of Repository the sweeper needs.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes expired sessions. It owns only its loop;
// a failed sweep is logged and retried on the next tick.
type Sweeper struct {
	deleter  ExpiredDeleter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper validates the interval up front, so a bad value fails at
// startup rather than on every tick.
func NewSweeper(deleter ExpiredDeleter, interval time.Duration, opts ...Option) (*Sweeper, error) {
	return newSweeper(deleter, interval, buildOptions(opts))
}

func newSweeper(deleter ExpiredDeleter, interval time.Duration, o options) (*Sweeper, error) {
	if deleter == nil {
		return nil, fmt.Errorf("%w: sweeper needs a repository", ErrConfiguration)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: sweep interval must be positive, got %s", ErrConfiguration, interval)
	}
	return &Sweeper{
		deleter:  deleter,
		interval: interval,
		logger:   o.logger,
		now:      o.now,
	}, nil
}

// Interval returns the configured sweep interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Sweep runs a single iteration: delete everything expired as of now.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.deleter.DeleteExpired(ctx, s.now())
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.Sweeps.WithLabelValues(metrics.Result(err)).Inc()

	if err != nil {
		s.logger.ErrorContext(ctx, "expired session sweep failed", "error", err, "retry_in", s.interval)
		return 0, err
	}

	metrics.ExpiredDeleted.Add(float64(n))
	metrics.LastSweepSuccess.SetToCurrentTime()
	s.logger.InfoContext(ctx, "deleted expired sessions", "count", n)
	return n, nil
}

// Run sleeps for the interval, sweeps, and repeats until ctx is cancelled.
// It returns ctx.Err(). A sweep already in progress is allowed to finish;
// cancellation is observed between ticks.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "expired session sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "expired session sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			_, _ = s.Sweep(context.WithoutCancel(ctx))
		}
	}
}
