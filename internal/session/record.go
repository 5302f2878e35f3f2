package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ID identifies a session record. It is the primary lookup key and stays
// stable for the lifetime of the session.
type ID string

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Record is a session as seen by the calling middleware.
type Record struct {
	ID     ID
	Data   map[string]any
	Expiry *time.Time // nil means the record never expires
}

// Expired reports whether the record's expiry is at or before now.
// The store never applies this on read; it exists for callers that expire lazily.
func (r *Record) Expired(now time.Time) bool {
	return r.Expiry != nil && !r.Expiry.After(now)
}

// Row is the persisted form of a Record: the payload is already encoded.
type Row struct {
	ID     ID
	Data   []byte
	Expiry *time.Time
}

// IDGenerator produces fresh candidate session ids.
type IDGenerator func() ID

// NewUUID returns a random (v4) UUID id.
func NewUUID() ID {
	return ID(uuid.NewString())
}

// NewULID returns a ULID id. ULIDs sort by creation time.
func NewULID() ID {
	return ID(ulid.Make().String())
}

// ExpiresAt is a convenience for building an absolute expiry.
func ExpiresAt(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
