package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// MonitorRepo is the Postgres store behind monitor.Service.
type MonitorRepo struct {
	db *sql.DB
}

// NewMonitorRepo creates the monitor repository.
func NewMonitorRepo(db *sql.DB) *MonitorRepo {
	return &MonitorRepo{db: db}
}

var _ monitor.Repository = (*MonitorRepo)(nil)

func (r *MonitorRepo) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
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

func (r *MonitorRepo) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes WHERE id = $1
	`, id)
	m, err := scanMailbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox %s: %w", id, err)
	}
	return m, nil
}

func (r *MonitorRepo) GetDomain(ctx context.Context, id string) (*domain.SendingDomain, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+domainColumns+` FROM sending_domains WHERE id = $1
	`, id)
	d, err := scanDomain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain %s: %w", id, err)
	}
	return d, nil
}

func (r *MonitorRepo) MailboxesByDomain(ctx context.Context, domainID string) ([]*domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE domain_id = $1
		ORDER BY created_at ASC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes for domain %s: %w", domainID, err)
	}
	return collectMailboxes(rows)
}

func (r *MonitorRepo) IncrementSendCounters(ctx context.Context, mailboxID string, now time.Time) (monitor.WindowCounts, error) {
	var c monitor.WindowCounts
	err := r.db.QueryRowContext(ctx, `
		UPDATE mailboxes
		SET window_sent_count = window_sent_count + 1,
		    total_sent_count = total_sent_count + 1,
		    clean_sends_since_phase = clean_sends_since_phase + 1,
		    last_activity_at = $2,
		    updated_at = $2
		WHERE id = $1
		RETURNING window_sent_count, window_bounce_count
	`, mailboxID, now).Scan(&c.Sent, &c.Bounced)
	if errors.Is(err, sql.ErrNoRows) {
		return c, monitor.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("increment send counters for %s: %w", mailboxID, err)
	}
	return c, nil
}

func (r *MonitorRepo) IncrementBounceCounters(ctx context.Context, mailboxID string, hard bool, now time.Time) (monitor.WindowCounts, error) {
	var c monitor.WindowCounts
	err := r.db.QueryRowContext(ctx, `
		UPDATE mailboxes
		SET window_bounce_count = window_bounce_count + 1,
		    hard_bounce_count = hard_bounce_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    last_activity_at = $3,
		    updated_at = $3
		WHERE id = $1
		RETURNING window_sent_count, window_bounce_count
	`, mailboxID, hard, now).Scan(&c.Sent, &c.Bounced)
	if errors.Is(err, sql.ErrNoRows) {
		return c, monitor.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("increment bounce counters for %s: %w", mailboxID, err)
	}
	return c, nil
}

func (r *MonitorRepo) SlideWindow(ctx context.Context, mailboxID string, now time.Time) (monitor.WindowCounts, error) {
	var c monitor.WindowCounts
	err := r.db.QueryRowContext(ctx, `
		UPDATE mailboxes
		SET window_sent_count = window_sent_count / 2,
		    window_bounce_count = window_bounce_count / 2,
		    window_start_at = $2,
		    updated_at = $2
		WHERE id = $1
		RETURNING window_sent_count, window_bounce_count
	`, mailboxID, now).Scan(&c.Sent, &c.Bounced)
	if errors.Is(err, sql.ErrNoRows) {
		return c, monitor.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("slide window for %s: %w", mailboxID, err)
	}
	return c, nil
}

func (r *MonitorRepo) AddProviderRestriction(ctx context.Context, mailboxID string, p domain.EmailProvider) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailboxes
		SET provider_restrictions = array_append(provider_restrictions, $2),
		    updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(provider_restrictions))
	`, mailboxID, string(p))
	if err != nil {
		return fmt.Errorf("add provider restriction for %s: %w", mailboxID, err)
	}
	return nil
}

func (r *MonitorRepo) ResetCleanSends(ctx context.Context, mailboxID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailboxes SET clean_sends_since_phase = 0, updated_at = now()
		WHERE id = $1
	`, mailboxID)
	if err != nil {
		return fmt.Errorf("reset clean sends for %s: %w", mailboxID, err)
	}
	return nil
}

func (r *MonitorRepo) IncrementWarningCount(ctx context.Context, mailboxID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailboxes SET warning_count = warning_count + 1, updated_at = now()
		WHERE id = $1
	`, mailboxID)
	if err != nil {
		return fmt.Errorf("increment warning count for %s: %w", mailboxID, err)
	}
	return nil
}

func (r *MonitorRepo) TransitionMailbox(ctx context.Context, mb *domain.Mailbox, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error {
	return transitionMailbox(ctx, r.db, mb, to, effects, reason, triggeredBy)
}

func (r *MonitorRepo) TransitionDomain(ctx context.Context, d *domain.SendingDomain, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error {
	return transitionDomain(ctx, r.db, d, to, effects, reason, triggeredBy)
}

func (r *MonitorRepo) PauseCampaign(ctx context.Context, campaignID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, campaignID, domain.CampaignPaused, domain.CampaignActive)
	if err != nil {
		return fmt.Errorf("pause campaign %s: %w", campaignID, err)
	}
	return nil
}

func (r *MonitorRepo) InsertNotification(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, r.db, n)
}

func (r *MonitorRepo) InsertAudit(ctx context.Context, a *domain.AuditLog) error {
	return insertAudit(ctx, r.db, a)
}

// transitionMailbox applies a state change, its transition row and its
// audit row in one transaction. effects is non-nil only when entering
// paused; the pause also zeroes clean_sends_since_phase.
func transitionMailbox(ctx context.Context, db *sql.DB, mb *domain.Mailbox, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	if effects != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE mailboxes
			SET status = $2, recovery_phase = $3, cooldown_until = $4,
			    consecutive_pauses = $5, last_pause_at = $6, resilience_score = $7,
			    phase_entered_at = $8, clean_sends_since_phase = 0, updated_at = now()
			WHERE id = $1
		`, mb.ID, to, effects.RecoveryPhase, effects.CooldownUntil,
			effects.ConsecutivePauses, effects.LastPauseAt, effects.ResilienceScore,
			effects.PhaseEnteredAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE mailboxes SET status = $2, updated_at = now()
			WHERE id = $1
		`, mb.ID, to)
	}
	if err != nil {
		return fmt.Errorf("update mailbox %s state: %w", mb.ID, err)
	}

	if err := writeTransitionRows(ctx, tx, mb.OrganizationID, domain.EntityMailbox, mb.ID,
		string(mb.Status), string(to), reason, triggeredBy); err != nil {
		return err
	}
	return tx.Commit()
}

func transitionDomain(ctx context.Context, db *sql.DB, d *domain.SendingDomain, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	if effects != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE sending_domains
			SET status = $2, recovery_phase = $3, cooldown_until = $4,
			    consecutive_pauses = $5, last_pause_at = $6, resilience_score = $7,
			    phase_entered_at = $8, clean_sends_since_phase = 0, updated_at = now()
			WHERE id = $1
		`, d.ID, to, effects.RecoveryPhase, effects.CooldownUntil,
			effects.ConsecutivePauses, effects.LastPauseAt, effects.ResilienceScore,
			effects.PhaseEnteredAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE sending_domains SET status = $2, updated_at = now()
			WHERE id = $1
		`, d.ID, to)
	}
	if err != nil {
		return fmt.Errorf("update domain %s state: %w", d.ID, err)
	}

	if err := writeTransitionRows(ctx, tx, d.OrganizationID, domain.EntityDomain, d.ID,
		string(d.Status), string(to), reason, triggeredBy); err != nil {
		return err
	}
	return tx.Commit()
}

// writeTransitionRows appends the StateTransition and AuditLog rows
// inside the caller's transaction.
func writeTransitionRows(ctx context.Context, tx *sql.Tx, orgID string, et domain.EntityType, entityID, from, to, reason, triggeredBy string) error {
	now := time.Now().UTC()
	if err := insertTransition(ctx, tx, &domain.StateTransition{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		EntityType:     et,
		EntityID:       entityID,
		FromState:      from,
		ToState:        to,
		Reason:         reason,
		TriggeredBy:    triggeredBy,
		CreatedAt:      now,
	}); err != nil {
		return err
	}
	return insertAudit(ctx, tx, &domain.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		EntityType:     et,
		EntityID:       entityID,
		Action:         "state_change",
		Detail:         fmt.Sprintf("%s -> %s: %s", from, to, reason),
		CreatedAt:      now,
	})
}
