package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
)

// EventRepo is the Postgres event log behind events.Service.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo creates the event log repository.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

var _ events.Repository = (*EventRepo)(nil)

const eventColumns = `
	id, organization_id, event_type, entity_type, entity_id, campaign_id,
	payload, idempotency_key, processed, processed_at, error_message,
	retry_count, created_at`

func scanEvent(s rowScanner) (*domain.RawEvent, error) {
	e := &domain.RawEvent{}
	var payload []byte
	err := s.Scan(
		&e.ID, &e.OrganizationID, &e.EventType, &e.EntityType, &e.EntityID, &e.CampaignID,
		&payload, &e.IdempotencyKey, &e.Processed, &e.ProcessedAt, &e.ErrorMessage,
		&e.RetryCount, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// Insert appends an event. The (organization_id, idempotency_key)
// unique index makes the duplicate check atomic.
func (r *EventRepo) Insert(ctx context.Context, e *domain.RawEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO raw_events
			(id, organization_id, event_type, entity_type, entity_id, campaign_id,
			 payload, idempotency_key, processed, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, 0, $9)
	`, e.ID, e.OrganizationID, e.EventType, e.EntityType, e.EntityID, e.CampaignID,
		payload, e.IdempotencyKey, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return events.ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepo) GetByIdempotencyKey(ctx context.Context, orgID, key string) (*domain.RawEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM raw_events
		WHERE organization_id = $1 AND idempotency_key = $2
	`, orgID, key)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event by key: %w", err)
	}
	return e, nil
}

func (r *EventRepo) GetByID(ctx context.Context, id string) (*domain.RawEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM raw_events WHERE id = $1
	`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

func (r *EventRepo) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE raw_events SET processed = true, processed_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event %s processed: %w", id, err)
	}
	return nil
}

func (r *EventRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE raw_events SET error_message = $2, retry_count = retry_count + 1
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark event %s failed: %w", id, err)
	}
	return nil
}

func (r *EventRepo) Unprocessed(ctx context.Context, orgID string, limit int) ([]*domain.RawEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM raw_events
		WHERE organization_id = $1 AND processed = false AND retry_count < 3
		ORDER BY created_at ASC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	return collectEvents(rows)
}

func (r *EventRepo) ForReplay(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, from *time.Time) ([]*domain.RawEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM raw_events
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND processed = true`
	args := []any{orgID, entityType, entityID}
	if from != nil {
		query += ` AND created_at >= $4`
		args = append(args, *from)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list replay events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*domain.RawEvent, error) {
	defer rows.Close()
	var out []*domain.RawEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
