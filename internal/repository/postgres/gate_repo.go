package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/gate"
	"github.com/ignite/deliverability-engine/internal/monitor"
)

// GateRepo is the Postgres store behind gate.Service.
type GateRepo struct {
	db *sql.DB
}

// NewGateRepo creates the gate repository.
func NewGateRepo(db *sql.DB) *GateRepo {
	return &GateRepo{db: db}
}

var _ gate.Repository = (*GateRepo)(nil)

const campaignColumns = `
	id, organization_id, name, status, routing_rules,
	sent_count, bounce_count, reply_count, lead_count, created_at, updated_at`

func scanCampaign(s rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var rules []byte
	err := s.Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Status, &rules,
		&c.SentCount, &c.BounceCount, &c.ReplyCount, &c.LeadCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &c.RoutingRules); err != nil {
			return nil, fmt.Errorf("decode routing rules for campaign %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r *GateRepo) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
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

func (r *GateRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1
	`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

func (r *GateRepo) CountMailboxes(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mailboxes WHERE organization_id = $1
	`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mailboxes: %w", err)
	}
	return n, nil
}

// EligibleMailboxes returns healthy mailboxes with a lapsed or absent
// cooldown on a healthy domain, strongest resilience first.
func (r *GateRepo) EligibleMailboxes(ctx context.Context, orgID string, now time.Time) ([]*domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixedMailboxColumns("m")+`
		FROM mailboxes m
		JOIN sending_domains d ON d.id = m.domain_id
		WHERE m.organization_id = $1
		  AND m.status = $2
		  AND (m.cooldown_until IS NULL OR m.cooldown_until <= $3)
		  AND d.status = $2
		ORDER BY m.resilience_score DESC, m.created_at ASC
	`, orgID, domain.StateHealthy, now)
	if err != nil {
		return nil, fmt.Errorf("list eligible mailboxes: %w", err)
	}
	return collectMailboxes(rows)
}

func (r *GateRepo) AvgResilience(ctx context.Context, orgID string) (float64, error) {
	var avg float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(resilience_score), 0) FROM mailboxes
		WHERE organization_id = $1
	`, orgID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average resilience: %w", err)
	}
	return avg, nil
}

func (r *GateRepo) MetricsFor(ctx context.Context, mailboxID string) (*domain.MailboxMetrics, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+metricsColumns+` FROM mailbox_metrics WHERE mailbox_id = $1
	`, mailboxID)
	m, err := scanMetrics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics for %s: %w", mailboxID, err)
	}
	return m, nil
}

// DomainRecovering reports whether the domain or any of its mailboxes
// is outside healthy/warning. The aggregate daily caps bind only then.
func (r *GateRepo) DomainRecovering(ctx context.Context, domainID string) (bool, error) {
	var recovering bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sending_domains WHERE id = $1 AND status NOT IN ($2, $3))
		    OR EXISTS (SELECT 1 FROM mailboxes WHERE domain_id = $1 AND status NOT IN ($2, $3))
	`, domainID, domain.StateHealthy, domain.StateWarning).Scan(&recovering)
	if err != nil {
		return false, fmt.Errorf("domain recovering check: %w", err)
	}
	return recovering, nil
}

func (r *GateRepo) OrgRecovering(ctx context.Context, orgID string) (bool, error) {
	var recovering bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sending_domains WHERE organization_id = $1 AND status NOT IN ($2, $3))
		    OR EXISTS (SELECT 1 FROM mailboxes WHERE organization_id = $1 AND status NOT IN ($2, $3))
	`, orgID, domain.StateHealthy, domain.StateWarning).Scan(&recovering)
	if err != nil {
		return false, fmt.Errorf("org recovering check: %w", err)
	}
	return recovering, nil
}

func (r *GateRepo) InsertAudit(ctx context.Context, a *domain.AuditLog) error {
	return insertAudit(ctx, r.db, a)
}

func (r *GateRepo) InsertNotification(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, r.db, n)
}

// ThrottleRepo answers the gate's daily-cap reads from the event log,
// so the counters need no writer of their own.
type ThrottleRepo struct {
	db *sql.DB
}

// NewThrottleRepo creates the throttle repository.
func NewThrottleRepo(db *sql.DB) *ThrottleRepo {
	return &ThrottleRepo{db: db}
}

var _ gate.Throttle = (*ThrottleRepo)(nil)

func (r *ThrottleRepo) MailboxSentToday(ctx context.Context, mailboxID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_events
		WHERE entity_id = $1
		  AND event_type = $2
		  AND created_at >= date_trunc('day', now())
	`, mailboxID, domain.EventEmailSent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mailbox sends today: %w", err)
	}
	return n, nil
}

func (r *ThrottleRepo) DomainSentToday(ctx context.Context, domainID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_events e
		JOIN mailboxes m ON m.id = e.entity_id
		WHERE m.domain_id = $1
		  AND e.event_type = $2
		  AND e.created_at >= date_trunc('day', now())
	`, domainID, domain.EventEmailSent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count domain sends today: %w", err)
	}
	return n, nil
}

func (r *ThrottleRepo) OrgSentToday(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_events
		WHERE organization_id = $1
		  AND event_type = $2
		  AND created_at >= date_trunc('day', now())
	`, orgID, domain.EventEmailSent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count org sends today: %w", err)
	}
	return n, nil
}
