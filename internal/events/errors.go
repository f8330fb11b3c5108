package events

import "errors"

var (
	// ErrNotFound indicates the event does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrDuplicateKey indicates an insert hit the idempotency-key
	// unique constraint. Repositories translate the driver error.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrInvalidReplayMode indicates an unrecognized replay mode.
	ErrInvalidReplayMode = errors.New("invalid replay mode")
)
