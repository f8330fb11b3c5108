package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/api"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// APIRepo is the Postgres store behind the HTTP handlers.
type APIRepo struct {
	db *sql.DB
}

// NewAPIRepo creates the API repository.
func NewAPIRepo(db *sql.DB) *APIRepo {
	return &APIRepo{db: db}
}

var _ api.Repository = (*APIRepo)(nil)

func (r *APIRepo) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+organizationColumns+` FROM organizations WHERE id = $1
	`, id)
	o, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	return o, nil
}

func (r *APIRepo) MailboxesByOrg(ctx context.Context, orgID string) ([]*domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	return collectMailboxes(rows)
}

func (r *APIRepo) CompleteAssessment(ctx context.Context, orgID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE organizations SET assessment_completed = true, updated_at = now()
		WHERE id = $1
	`, orgID)
	if err != nil {
		return fmt.Errorf("complete assessment for %s: %w", orgID, err)
	}
	return nil
}

func (r *APIRepo) SetSubscriptionBlocked(ctx context.Context, orgID string, blocked bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE organizations SET subscription_blocked = $2, updated_at = now()
		WHERE id = $1
	`, orgID, blocked)
	if err != nil {
		return fmt.Errorf("set subscription blocked for %s: %w", orgID, err)
	}
	return nil
}

// AssignLeads attaches leads to a campaign in one SERIALIZABLE
// transaction. The campaign row lock keeps the capacity check and the
// lead writes atomic; concurrent batches serialize on it. Leads whose
// state forbids activation are skipped, not failed.
func (r *APIRepo) AssignLeads(ctx context.Context, orgID, campaignID string, leadIDs []string) (*api.AssignmentResult, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin assignment: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, campaignID, orgID)
	camp, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock campaign %s: %w", campaignID, err)
	}

	var mailboxes int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mailboxes WHERE organization_id = $1
	`, orgID).Scan(&mailboxes)
	if err != nil {
		return nil, fmt.Errorf("count mailboxes: %w", err)
	}

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leads WHERE assigned_campaign_id = $1
	`, campaignID).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("count assigned leads: %w", err)
	}

	ideal := camp.IdealCapacity(mailboxes)
	max := camp.MaxCapacity(mailboxes)
	if current+len(leadIDs) > max {
		return nil, fmt.Errorf("%w: %d assigned + %d requested > %d",
			api.ErrCampaignFull, current, len(leadIDs), max)
	}

	assigned := 0
	for _, leadID := range leadIDs {
		var status domain.LeadState
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM leads
			WHERE id = $1 AND organization_id = $2
			FOR UPDATE
		`, leadID, orgID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock lead %s: %w", leadID, err)
		}
		if statemachine.ValidateLead(status, domain.LeadActive) != nil {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE leads
			SET assigned_campaign_id = $2, status = $3, updated_at = now()
			WHERE id = $1
		`, leadID, campaignID, domain.LeadActive)
		if err != nil {
			return nil, fmt.Errorf("assign lead %s: %w", leadID, err)
		}
		assigned++
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns SET lead_count = $2, updated_at = now()
		WHERE id = $1
	`, campaignID, current+assigned)
	if err != nil {
		return nil, fmt.Errorf("update campaign lead count: %w", err)
	}

	if err := insertAudit(ctx, tx, &domain.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		EntityType:     domain.EntityCampaign,
		EntityID:       campaignID,
		Action:         "leads_assigned",
		Detail:         fmt.Sprintf("%d of %d leads assigned, campaign at %d/%d", assigned, len(leadIDs), current+assigned, max),
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assignment: %w", err)
	}

	return &api.AssignmentResult{
		Assigned:  assigned,
		LeadCount: current + assigned,
		Ideal:     ideal,
		Max:       max,
		OverIdeal: current+assigned > ideal,
	}, nil
}

func (r *APIRepo) InsertAudit(ctx context.Context, a *domain.AuditLog) error {
	return insertAudit(ctx, r.db, a)
}
