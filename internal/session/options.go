package session

import (
	"log/slog"
	"time"

	"sessionstore-go/internal/codec"
)

// DefaultMaxCreateAttempts bounds how many ids Create tries before giving up.
const DefaultMaxCreateAttempts = 5

// Codec converts a payload to its stored bytes and back.
type Codec = codec.Codec

type options struct {
	logger            *slog.Logger
	now               func() time.Time
	newID             IDGenerator
	maxCreateAttempts int
	codec             Codec
}

// Option configures a Store, Repository or Sweeper.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets how new ids are produced. Defaults to NewUUID.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithMaxCreateAttempts bounds collision retries in Create.
func WithMaxCreateAttempts(n int) Option {
	return func(o *options) {
		o.maxCreateAttempts = n
	}
}

// WithCodec replaces the payload codec. Defaults to codec.CBOR.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:            slog.Default(),
		now:               time.Now,
		newID:             NewUUID,
		maxCreateAttempts: DefaultMaxCreateAttempts,
		codec:             codec.CBOR{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
