package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBackend is returned when the database call failed.
	ErrBackend = errors.New("session backend")

	// ErrDecode is returned when stored bytes cannot be turned back into a payload.
	ErrDecode = errors.New("session decode")

	// ErrEncode is returned when a payload cannot be serialized.
	ErrEncode = errors.New("session encode")

	// ErrCollision is returned by a Backend when Insert hits an existing id.
	// Repository retries it; callers only see it wrapped in ErrRetriesExhausted.
	ErrCollision = errors.New("session id collision")

	// ErrRetriesExhausted is returned when every generated id collided.
	ErrRetriesExhausted = errors.New("session id retries exhausted")

	// ErrConfiguration is returned at setup time for invalid settings.
	ErrConfiguration = errors.New("invalid session config")

	// ErrInvalidRecord is returned when a record cannot be persisted as given.
	ErrInvalidRecord = errors.New("invalid session record")
)

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}
