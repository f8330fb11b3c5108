package domain

import "time"

// SendingDomain is a DNS name whose reputation is shared by its mailboxes.
// Health fields mirror Mailbox so the state machine and healing service
// can treat both uniformly.
type SendingDomain struct {
	ID             string        `json:"id" db:"id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	Name           string        `json:"name" db:"name"`
	Status         HealthState   `json:"status" db:"status"`
	RecoveryPhase  RecoveryPhase `json:"recovery_phase" db:"recovery_phase"`

	ConsecutivePauses    int        `json:"consecutive_pauses" db:"consecutive_pauses"`
	ResilienceScore      int        `json:"resilience_score" db:"resilience_score"`
	CooldownUntil        *time.Time `json:"cooldown_until" db:"cooldown_until"`
	PhaseEnteredAt       *time.Time `json:"phase_entered_at" db:"phase_entered_at"`
	CleanSendsSincePhase int        `json:"clean_sends_since_phase" db:"clean_sends_since_phase"`
	WarningCount         int        `json:"warning_count" db:"warning_count"`
	LastPauseAt          *time.Time `json:"last_pause_at" db:"last_pause_at"`

	// RehabOrigin marks damage inherited from onboarding rather than caused
	// in operation. Rehab domains start at resilience 40 and graduate on
	// stricter clean-send requirements.
	RehabOrigin bool `json:"rehab_origin" db:"rehab_origin"`

	DNSVerified bool `json:"dns_verified" db:"dns_verified"`

	// Lifetime aggregates, denormalized for dashboards.
	TotalSentCount   int64 `json:"total_sent_count" db:"total_sent_count"`
	TotalBounceCount int64 `json:"total_bounce_count" db:"total_bounce_count"`
	TotalOpenCount   int64 `json:"total_open_count" db:"total_open_count"`
	TotalReplyCount  int64 `json:"total_reply_count" db:"total_reply_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CooldownExpired reports whether the cooldown has lapsed (or never existed).
func (d *SendingDomain) CooldownExpired(now time.Time) bool {
	return d.CooldownUntil == nil || !d.CooldownUntil.After(now)
}
