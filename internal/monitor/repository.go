package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// ErrNotFound indicates a referenced entity does not exist.
var ErrNotFound = errors.New("entity not found")

// WindowCounts is the fresh rolling-window counter pair returned by
// atomic counter writes (UPDATE ... RETURNING).
type WindowCounts struct {
	Sent    int
	Bounced int
}

// Repository is the persistence contract for the monitor. Counter
// methods must be single atomic statements; Transition methods must
// write the entity update, the StateTransition row, and the AuditLog
// entry in one transaction.
type Repository interface {
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error)
	GetDomain(ctx context.Context, id string) (*domain.SendingDomain, error)
	MailboxesByDomain(ctx context.Context, domainID string) ([]*domain.Mailbox, error)

	// IncrementSendCounters bumps window_sent_count, total_sent_count,
	// clean_sends_since_phase and last_activity_at atomically.
	IncrementSendCounters(ctx context.Context, mailboxID string, now time.Time) (WindowCounts, error)

	// IncrementBounceCounters bumps window_bounce_count (and
	// hard_bounce_count when hard) plus last_activity_at atomically.
	IncrementBounceCounters(ctx context.Context, mailboxID string, hard bool, now time.Time) (WindowCounts, error)

	// SlideWindow halves both window counters and restamps
	// window_start_at, atomically.
	SlideWindow(ctx context.Context, mailboxID string, now time.Time) (WindowCounts, error)

	AddProviderRestriction(ctx context.Context, mailboxID string, p domain.EmailProvider) error
	ResetCleanSends(ctx context.Context, mailboxID string) error
	IncrementWarningCount(ctx context.Context, mailboxID string) error

	// TransitionMailbox applies a validated state change. effects is
	// non-nil only when entering paused.
	TransitionMailbox(ctx context.Context, mb *domain.Mailbox, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error

	// TransitionDomain is the domain counterpart of TransitionMailbox.
	TransitionDomain(ctx context.Context, d *domain.SendingDomain, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error

	// PauseCampaign sets the campaign status to paused.
	PauseCampaign(ctx context.Context, campaignID, reason string) error

	// InsertNotification stores a user-visible notification. The
	// implementation dedups per (org, campaign, kind) per 24h.
	InsertNotification(ctx context.Context, n *domain.Notification) error

	// InsertAudit appends an audit log row.
	InsertAudit(ctx context.Context, a *domain.AuditLog) error
}

// MetricsRecorder is the slice of the metrics engine the monitor uses.
type MetricsRecorder interface {
	RecordSent(ctx context.Context, mailboxID string) error
	RecordBounce(ctx context.Context, mailboxID string) error
	RecordFailure(ctx context.Context, mailboxID string) error
}

// Healer handles relapse when a recovery-phase mailbox bounces, and
// the graduation of a legacy recovering mailbox back to healthy.
type Healer interface {
	Relapse(ctx context.Context, mb *domain.Mailbox, reason string) error

	// Recover transitions a recovering mailbox to healthy, clearing
	// cooldown_until and resetting consecutive_pauses in the same write.
	Recover(ctx context.Context, mb *domain.Mailbox, reason string) error
}

// PlatformRemover detaches a paused mailbox from its external
// campaigns. Best-effort: failures are logged, never blocking.
type PlatformRemover interface {
	RemoveMailboxFromCampaigns(ctx context.Context, orgID, mailboxID string) error
}
