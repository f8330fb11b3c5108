package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/healing"
)

// HealingRepo is the Postgres store behind healing.Service.
type HealingRepo struct {
	db *sql.DB
}

// NewHealingRepo creates the healing repository.
func NewHealingRepo(db *sql.DB) *HealingRepo {
	return &HealingRepo{db: db}
}

var _ healing.Repository = (*HealingRepo)(nil)

// ApplyMailboxRecovery writes a phase move in one transaction: entity
// update, transition row, audit row. Phase changes always restart the
// clean-send count.
func (r *HealingRepo) ApplyMailboxRecovery(ctx context.Context, mb *domain.Mailbox, upd healing.RecoveryUpdate, reason, triggeredBy string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE mailboxes
		SET status = $2, recovery_phase = $3, resilience_score = $4,
		    consecutive_pauses = $5, cooldown_until = $6, phase_entered_at = $7,
		    clean_sends_since_phase = 0, updated_at = now()
		WHERE id = $1
	`, mb.ID, upd.Status, upd.Phase, upd.ResilienceScore,
		upd.ConsecutivePauses, upd.CooldownUntil, upd.PhaseEnteredAt)
	if err != nil {
		return fmt.Errorf("apply mailbox recovery %s: %w", mb.ID, err)
	}

	if err := writeTransitionRows(ctx, tx, mb.OrganizationID, domain.EntityMailbox, mb.ID,
		phaseState(mb.Status, mb.RecoveryPhase), phaseState(upd.Status, upd.Phase),
		reason, triggeredBy); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *HealingRepo) ApplyDomainRecovery(ctx context.Context, d *domain.SendingDomain, upd healing.RecoveryUpdate, reason, triggeredBy string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE sending_domains
		SET status = $2, recovery_phase = $3, resilience_score = $4,
		    consecutive_pauses = $5, cooldown_until = $6, phase_entered_at = $7,
		    clean_sends_since_phase = 0, updated_at = now()
		WHERE id = $1
	`, d.ID, upd.Status, upd.Phase, upd.ResilienceScore,
		upd.ConsecutivePauses, upd.CooldownUntil, upd.PhaseEnteredAt)
	if err != nil {
		return fmt.Errorf("apply domain recovery %s: %w", d.ID, err)
	}

	if err := writeTransitionRows(ctx, tx, d.OrganizationID, domain.EntityDomain, d.ID,
		phaseState(d.Status, d.RecoveryPhase), phaseState(upd.Status, upd.Phase),
		reason, triggeredBy); err != nil {
		return err
	}
	return tx.Commit()
}

// AdjustResilience bumps the score by delta, clamped to [0,100] in SQL
// so concurrent adjustments cannot push past the bounds.
func (r *HealingRepo) AdjustResilience(ctx context.Context, entityType domain.EntityType, id string, delta int) error {
	table, err := entityTable(entityType)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET resilience_score = LEAST(100, GREATEST(0, resilience_score + $2)),
		    updated_at = now()
		WHERE id = $1
	`, table), id, delta)
	if err != nil {
		return fmt.Errorf("adjust resilience for %s %s: %w", entityType, id, err)
	}
	return nil
}

func (r *HealingRepo) InsertNotification(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, r.db, n)
}

// phaseState renders a state plus its recovery phase for transition
// rows, so phase moves inside the same health state stay visible.
func phaseState(s domain.HealthState, p domain.RecoveryPhase) string {
	if p == "" || p == domain.PhaseHealthy {
		return string(s)
	}
	return fmt.Sprintf("%s:%s", s, p)
}

func entityTable(et domain.EntityType) (string, error) {
	switch et {
	case domain.EntityMailbox:
		return "mailboxes", nil
	case domain.EntityDomain:
		return "sending_domains", nil
	}
	return "", fmt.Errorf("no table for entity type %q", et)
}
