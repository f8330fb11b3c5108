package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// execer is satisfied by *sql.DB and *sql.Tx so the shared writers can
// run standalone or inside a transition transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertNotification appends a notification unless an equal
// (org, campaign, kind) row was written in the last 24 hours.
func insertNotification(ctx context.Context, q execer, n *domain.Notification) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO notifications
			(id, organization_id, campaign_id, severity, kind, title, message, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications
			WHERE organization_id = $2
			  AND kind = $5
			  AND COALESCE(campaign_id, '') = COALESCE($3, '')
			  AND created_at > $8::timestamptz - interval '24 hours'
		)
	`, n.ID, n.OrganizationID, n.CampaignID, n.Severity, n.Kind, n.Title, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// insertAudit appends an audit log row.
func insertAudit(ctx context.Context, q execer, a *domain.AuditLog) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, organization_id, entity_type, entity_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.OrganizationID, a.EntityType, a.EntityID, a.Action, a.Detail, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// insertTransition appends a state transition row.
func insertTransition(ctx context.Context, q execer, t *domain.StateTransition) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO state_transitions
			(id, organization_id, entity_type, entity_id, from_state, to_state, reason, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.OrganizationID, t.EntityType, t.EntityID, t.FromState, t.ToState, t.Reason, t.TriggeredBy, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}
