package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/correlation"
	"github.com/ignite/deliverability-engine/internal/domain"
)

// CorrelationRepo is the Postgres store behind correlation.Service.
type CorrelationRepo struct {
	db *sql.DB
}

// NewCorrelationRepo creates the correlation repository.
func NewCorrelationRepo(db *sql.DB) *CorrelationRepo {
	return &CorrelationRepo{db: db}
}

var _ correlation.Repository = (*CorrelationRepo)(nil)

func (r *CorrelationRepo) SiblingMailboxes(ctx context.Context, domainID, excludeMailboxID string) ([]*domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE domain_id = $1 AND id <> $2
		ORDER BY created_at ASC
	`, domainID, excludeMailboxID)
	if err != nil {
		return nil, fmt.Errorf("list sibling mailboxes: %w", err)
	}
	return collectMailboxes(rows)
}

func (r *CorrelationRepo) RecentBounces(ctx context.Context, orgID, mailboxID string, since time.Time) ([]*domain.RawEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM raw_events
		WHERE organization_id = $1 AND entity_id = $2
		  AND event_type IN ($3, $4)
		  AND created_at >= $5
		ORDER BY created_at ASC
	`, orgID, mailboxID, domain.EventBounce, domain.EventHardBounce, since)
	if err != nil {
		return nil, fmt.Errorf("list recent bounces for %s: %w", mailboxID, err)
	}
	return collectEvents(rows)
}
