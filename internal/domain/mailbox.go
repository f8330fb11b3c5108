package domain

import "time"

// Mailbox is an individual sending address owned by a sending domain.
type Mailbox struct {
	ID             string        `json:"id" db:"id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	DomainID       string        `json:"domain_id" db:"domain_id"`
	Email          string        `json:"email" db:"email"`
	Status         HealthState   `json:"status" db:"status"`
	RecoveryPhase  RecoveryPhase `json:"recovery_phase" db:"recovery_phase"`

	ConsecutivePauses    int        `json:"consecutive_pauses" db:"consecutive_pauses"`
	ResilienceScore      int        `json:"resilience_score" db:"resilience_score"`
	CooldownUntil        *time.Time `json:"cooldown_until" db:"cooldown_until"`
	PhaseEnteredAt       *time.Time `json:"phase_entered_at" db:"phase_entered_at"`
	CleanSendsSincePhase int        `json:"clean_sends_since_phase" db:"clean_sends_since_phase"`
	WarningCount         int        `json:"warning_count" db:"warning_count"`
	LastPauseAt          *time.Time `json:"last_pause_at" db:"last_pause_at"`
	RehabOrigin          bool       `json:"rehab_origin" db:"rehab_origin"`

	// Rolling-window counters, denormalized on the mailbox row itself.
	// Incremented with UPDATE ... SET x = x + 1, never read-modify-write.
	WindowSentCount   int        `json:"window_sent_count" db:"window_sent_count"`
	WindowBounceCount int        `json:"window_bounce_count" db:"window_bounce_count"`
	WindowStartAt     time.Time  `json:"window_start_at" db:"window_start_at"`
	HardBounceCount   int        `json:"hard_bounce_count" db:"hard_bounce_count"`
	TotalSentCount    int64      `json:"total_sent_count" db:"total_sent_count"`
	LastActivityAt    *time.Time `json:"last_activity_at" db:"last_activity_at"`

	// ProviderRestrictions lists receiving providers this mailbox must not
	// send to (correlation's narrow outcome).
	ProviderRestrictions []EmailProvider `json:"provider_restrictions" db:"provider_restrictions"`

	SMTPStatus bool `json:"smtp_status" db:"smtp_status"`
	IMAPStatus bool `json:"imap_status" db:"imap_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CooldownExpired reports whether the cooldown has lapsed (or never existed).
func (m *Mailbox) CooldownExpired(now time.Time) bool {
	return m.CooldownUntil == nil || !m.CooldownUntil.After(now)
}

// WindowBounceRate returns bounces/sent for the current rolling window.
func (m *Mailbox) WindowBounceRate() float64 {
	if m.WindowSentCount == 0 {
		return 0
	}
	return float64(m.WindowBounceCount) / float64(m.WindowSentCount)
}

// RestrictedTo reports whether sending to the given provider is blocked.
func (m *Mailbox) RestrictedTo(p EmailProvider) bool {
	for _, r := range m.ProviderRestrictions {
		if r == p {
			return true
		}
	}
	return false
}

// ConnectionsHealthy reports whether both SMTP and IMAP probes pass.
// The metrics worker only recomputes risk for connection-healthy mailboxes.
func (m *Mailbox) ConnectionsHealthy() bool {
	return m.SMTPStatus && m.IMAPStatus
}

// MailboxMetrics is the 1-1 per-mailbox window store for the metrics
// engine. A window's counters are zeroed exactly when now minus the window
// start reaches the window duration.
type MailboxMetrics struct {
	MailboxID      string `json:"mailbox_id" db:"mailbox_id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Sent1h     int       `json:"sent_1h" db:"sent_1h"`
	Bounce1h   int       `json:"bounce_1h" db:"bounce_1h"`
	Failure1h  int       `json:"failure_1h" db:"failure_1h"`
	Window1h   time.Time `json:"window_1h_start" db:"window_1h_start"`
	Sent24h    int       `json:"sent_24h" db:"sent_24h"`
	Bounce24h  int       `json:"bounce_24h" db:"bounce_24h"`
	Failure24h int       `json:"failure_24h" db:"failure_24h"`
	Window24h  time.Time `json:"window_24h_start" db:"window_24h_start"`
	Sent7d     int       `json:"sent_7d" db:"sent_7d"`
	Bounce7d   int       `json:"bounce_7d" db:"bounce_7d"`
	Failure7d  int       `json:"failure_7d" db:"failure_7d"`
	Window7d   time.Time `json:"window_7d_start" db:"window_7d_start"`

	RiskScore float64 `json:"risk_score" db:"risk_score"`
	Velocity  float64 `json:"velocity" db:"velocity"`

	// Previous-cycle rates, kept so the next recompute can derive deltas.
	PrevBounceRate  float64 `json:"prev_bounce_rate" db:"prev_bounce_rate"`
	PrevFailureRate float64 `json:"prev_failure_rate" db:"prev_failure_rate"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
