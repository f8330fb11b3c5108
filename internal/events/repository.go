package events

import (
	"context"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// Repository is the persistence contract for the event log. The
// Postgres implementation lives in internal/repository/postgres.
type Repository interface {
	// Insert appends an event. When the event carries an idempotency
	// key that already exists, the implementation returns
	// ErrDuplicateKey without inserting. The check-and-insert must be
	// atomic (unique constraint, not a pre-read).
	Insert(ctx context.Context, e *domain.RawEvent) error

	// GetByIdempotencyKey returns the existing event for a key, or
	// ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, orgID, key string) (*domain.RawEvent, error)

	// GetByID returns one event, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.RawEvent, error)

	// MarkProcessed stamps processed=true and processed_at.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed records the error message and increments retry_count.
	MarkFailed(ctx context.Context, id, errMsg string) error

	// Unprocessed returns unprocessed events with retry_count < 3,
	// FIFO by created_at.
	Unprocessed(ctx context.Context, orgID string, limit int) ([]*domain.RawEvent, error)

	// ForReplay returns processed events for one entity in
	// chronological order, optionally bounded below by from.
	ForReplay(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, from *time.Time) ([]*domain.RawEvent, error)
}
