package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// ErrNotFound indicates no metrics row exists for the mailbox.
var ErrNotFound = errors.New("metrics not found")

// Window identifies one of the three rolling windows.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Repository is the persistence contract for mailbox metrics.
// Increment methods must be single atomic UPDATE statements.
type Repository interface {
	// Get returns the metrics row, or ErrNotFound.
	Get(ctx context.Context, mailboxID string) (*domain.MailboxMetrics, error)

	// Create inserts a zeroed metrics row with all windows starting now.
	Create(ctx context.Context, m *domain.MailboxMetrics) error

	// ResetWindow zeroes one window's counters and restamps its start.
	ResetWindow(ctx context.Context, mailboxID string, w Window, start time.Time) error

	// IncrementSent bumps sent counters in all three windows atomically.
	IncrementSent(ctx context.Context, mailboxID string) error

	// IncrementBounce bumps bounce counters in all three windows.
	IncrementBounce(ctx context.Context, mailboxID string) error

	// IncrementFailure bumps failure counters in all three windows.
	IncrementFailure(ctx context.Context, mailboxID string) error

	// UpdateRisk persists a recompute result along with the rates the
	// next cycle will diff against.
	UpdateRisk(ctx context.Context, mailboxID string, riskScore, velocity, bounceRate, failureRate float64) error
}
