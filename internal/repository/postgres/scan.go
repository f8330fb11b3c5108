package postgres

import (
	"database/sql"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var mailboxColumnList = []string{
	"id", "organization_id", "domain_id", "email", "status", "recovery_phase",
	"consecutive_pauses", "resilience_score", "cooldown_until", "phase_entered_at",
	"clean_sends_since_phase", "warning_count", "last_pause_at", "rehab_origin",
	"window_sent_count", "window_bounce_count", "window_start_at",
	"hard_bounce_count", "total_sent_count", "last_activity_at",
	"provider_restrictions", "smtp_status", "imap_status", "created_at", "updated_at",
}

var mailboxColumns = strings.Join(mailboxColumnList, ", ")

// prefixedMailboxColumns qualifies the mailbox column list with a table
// alias for joined queries.
func prefixedMailboxColumns(alias string) string {
	cols := make([]string, len(mailboxColumnList))
	for i, c := range mailboxColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func scanMailbox(s rowScanner) (*domain.Mailbox, error) {
	m := &domain.Mailbox{}
	var restrictions pq.StringArray
	err := s.Scan(
		&m.ID, &m.OrganizationID, &m.DomainID, &m.Email, &m.Status, &m.RecoveryPhase,
		&m.ConsecutivePauses, &m.ResilienceScore, &m.CooldownUntil, &m.PhaseEnteredAt,
		&m.CleanSendsSincePhase, &m.WarningCount, &m.LastPauseAt, &m.RehabOrigin,
		&m.WindowSentCount, &m.WindowBounceCount, &m.WindowStartAt,
		&m.HardBounceCount, &m.TotalSentCount, &m.LastActivityAt,
		&restrictions, &m.SMTPStatus, &m.IMAPStatus, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, r := range restrictions {
		m.ProviderRestrictions = append(m.ProviderRestrictions, domain.EmailProvider(r))
	}
	return m, nil
}

const domainColumns = `
	id, organization_id, name, status, recovery_phase,
	consecutive_pauses, resilience_score, cooldown_until, phase_entered_at,
	clean_sends_since_phase, warning_count, last_pause_at, rehab_origin,
	dns_verified, total_sent_count, total_bounce_count, total_open_count,
	total_reply_count, created_at, updated_at`

func scanDomain(s rowScanner) (*domain.SendingDomain, error) {
	d := &domain.SendingDomain{}
	err := s.Scan(
		&d.ID, &d.OrganizationID, &d.Name, &d.Status, &d.RecoveryPhase,
		&d.ConsecutivePauses, &d.ResilienceScore, &d.CooldownUntil, &d.PhaseEnteredAt,
		&d.CleanSendsSincePhase, &d.WarningCount, &d.LastPauseAt, &d.RehabOrigin,
		&d.DNSVerified, &d.TotalSentCount, &d.TotalBounceCount, &d.TotalOpenCount,
		&d.TotalReplyCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

const organizationColumns = `
	id, name, system_mode, assessment_completed, subscription_blocked,
	COALESCE(webhook_secret, ''), created_at, updated_at`

func scanOrganization(s rowScanner) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := s.Scan(
		&o.ID, &o.Name, &o.SystemMode, &o.AssessmentCompleted, &o.SubscriptionBlocked,
		&o.WebhookSecret, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func collectMailboxes(rows *sql.Rows) ([]*domain.Mailbox, error) {
	defer rows.Close()
	var out []*domain.Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func collectDomains(rows *sql.Rows) ([]*domain.SendingDomain, error) {
	defer rows.Close()
	var out []*domain.SendingDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
