package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/platform"
	"github.com/ignite/deliverability-engine/internal/statemachine"
	"github.com/ignite/deliverability-engine/internal/worker"
)

// WorkerRepo backs both background workers: the metrics sweep reads
// through worker.Repository and the platform sync writes through
// worker.SyncStore.
type WorkerRepo struct {
	db *sql.DB
}

// NewWorkerRepo creates the worker repository.
func NewWorkerRepo(db *sql.DB) *WorkerRepo {
	return &WorkerRepo{db: db}
}

var (
	_ worker.Repository = (*WorkerRepo)(nil)
	_ worker.SyncStore  = (*WorkerRepo)(nil)
)

func (r *WorkerRepo) Organizations(ctx context.Context) ([]*domain.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+organizationColumns+` FROM organizations ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var out []*domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *WorkerRepo) ActiveMailboxes(ctx context.Context, orgID string, limit int) ([]*domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE organization_id = $1 AND status IN ($2, $3)
		ORDER BY last_activity_at DESC NULLS LAST
		LIMIT $4
	`, orgID, domain.StateHealthy, domain.StateWarning, limit)
	if err != nil {
		return nil, fmt.Errorf("list active mailboxes: %w", err)
	}
	return collectMailboxes(rows)
}

func (r *WorkerRepo) RecoveryMailboxes(ctx context.Context, orgID string) ([]*domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE organization_id = $1
		  AND status IN ($2, $3, $4, $5, $6)
		ORDER BY phase_entered_at ASC NULLS FIRST
	`, orgID, domain.StatePaused, domain.StateQuarantine, domain.StateRestrictedSend,
		domain.StateWarmRecovery, domain.StateRecovering)
	if err != nil {
		return nil, fmt.Errorf("list recovery mailboxes: %w", err)
	}
	return collectMailboxes(rows)
}

func (r *WorkerRepo) RecoveryDomains(ctx context.Context, orgID string) ([]*domain.SendingDomain, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+domainColumns+` FROM sending_domains
		WHERE organization_id = $1
		  AND status IN ($2, $3, $4, $5, $6)
		ORDER BY phase_entered_at ASC NULLS FIRST
	`, orgID, domain.StatePaused, domain.StateQuarantine, domain.StateRestrictedSend,
		domain.StateWarmRecovery, domain.StateRecovering)
	if err != nil {
		return nil, fmt.Errorf("list recovery domains: %w", err)
	}
	return collectDomains(rows)
}

func (r *WorkerRepo) GetDomain(ctx context.Context, id string) (*domain.SendingDomain, error) {
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

func (r *WorkerRepo) Domains(ctx context.Context, orgID string) ([]*domain.SendingDomain, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+domainColumns+` FROM sending_domains
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return collectDomains(rows)
}

// StableEntities lists healthy mailboxes and domains still below the
// resilience ceiling, as weekly stability bonus candidates.
func (r *WorkerRepo) StableEntities(ctx context.Context, orgID string) ([]worker.StableEntity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT $2::text, id, last_pause_at FROM mailboxes
		WHERE organization_id = $1 AND status = $4 AND resilience_score < 100
		UNION ALL
		SELECT $3::text, id, last_pause_at FROM sending_domains
		WHERE organization_id = $1 AND status = $4 AND resilience_score < 100
	`, orgID, domain.EntityMailbox, domain.EntityDomain, domain.StateHealthy)
	if err != nil {
		return nil, fmt.Errorf("list stable entities: %w", err)
	}
	defer rows.Close()
	var out []worker.StableEntity
	for rows.Next() {
		var e worker.StableEntity
		if err := rows.Scan(&e.EntityType, &e.ID, &e.LastPauseAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *WorkerRepo) TransitionMailbox(ctx context.Context, mb *domain.Mailbox, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error {
	return transitionMailbox(ctx, r.db, mb, to, effects, reason, triggeredBy)
}

func (r *WorkerRepo) InsertNotification(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, r.db, n)
}

// UpsertRemoteCampaign refreshes the cached view of a platform
// campaign. Local counters are never touched by sync.
func (r *WorkerRepo) UpsertRemoteCampaign(ctx context.Context, orgID string, c platform.RemoteCampaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, name, status, routing_rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}'::jsonb, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status, updated_at = now()
	`, c.ID, orgID, c.Name, remoteCampaignStatus(c.Status))
	if err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.ID, err)
	}
	return nil
}

// UpsertRemoteMailbox refreshes the cached view of a platform mailbox,
// creating its sending domain from the email's domain part on first
// sight. Health state stays untouched: sync only refreshes connection
// probes and identity.
func (r *WorkerRepo) UpsertRemoteMailbox(ctx context.Context, orgID string, m platform.RemoteMailbox) error {
	domainName := emailDomain(m.Email)
	if domainName == "" {
		return fmt.Errorf("mailbox %s has no domain part", m.ID)
	}
	_, err := r.db.ExecContext(ctx, `
		WITH dom AS (
			INSERT INTO sending_domains
				(id, organization_id, name, status, recovery_phase, phase_entered_at, created_at, updated_at)
			VALUES ($5, $2, $6, $7, $8, now(), now(), now())
			ON CONFLICT (organization_id, name) DO UPDATE SET updated_at = now()
			RETURNING id
		)
		INSERT INTO mailboxes
			(id, organization_id, domain_id, email, status, recovery_phase,
			 smtp_status, imap_status, window_start_at, created_at, updated_at)
		SELECT $1, $2, dom.id, $3, $7, $8, $4, $9, now(), now(), now() FROM dom
		ON CONFLICT (organization_id, email) DO UPDATE
		SET smtp_status = EXCLUDED.smtp_status,
		    imap_status = EXCLUDED.imap_status,
		    updated_at = now()
	`, m.ID, orgID, m.Email, m.SMTPStatus,
		uuid.NewString(), domainName, domain.StateHealthy, domain.PhaseHealthy, m.IMAPStatus)
	if err != nil {
		return fmt.Errorf("upsert mailbox %s: %w", m.ID, err)
	}
	return nil
}

func remoteCampaignStatus(s string) domain.CampaignStatus {
	switch strings.ToLower(s) {
	case "active", "running", "started":
		return domain.CampaignActive
	case "paused", "stopped":
		return domain.CampaignPaused
	case "completed", "finished":
		return domain.CampaignCompleted
	}
	return domain.CampaignDraft
}

func emailDomain(email string) string {
	_, dom, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return strings.ToLower(dom)
}
