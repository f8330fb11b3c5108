package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/risk"
)

// Snapshot is the output of one risk recompute.
type Snapshot struct {
	MailboxID string  `json:"mailbox_id"`
	RiskScore float64 `json:"risk_score"`
	RiskLevel string  `json:"risk_level"`
	HardScore float64 `json:"hard_score"`
	SoftScore float64 `json:"soft_score"`
	Velocity  float64 `json:"velocity"`

	Rates1h  risk.WindowRates `json:"rates_1h"`
	Rates24h risk.WindowRates `json:"rates_24h"`
}

// Service is the metrics engine.
type Service struct {
	repo Repository
	now  func() time.Time
	log  *logger.Logger
}

// NewService creates the metrics engine.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, log: logger.For("metrics")}
}

// RecordSent rotates stale windows, then atomically increments sent
// counters across all windows.
func (s *Service) RecordSent(ctx context.Context, mailboxID string) error {
	if err := s.rotate(ctx, mailboxID); err != nil {
		return err
	}
	return s.repo.IncrementSent(ctx, mailboxID)
}

// RecordBounce rotates stale windows, then increments bounce counters.
func (s *Service) RecordBounce(ctx context.Context, mailboxID string) error {
	if err := s.rotate(ctx, mailboxID); err != nil {
		return err
	}
	return s.repo.IncrementBounce(ctx, mailboxID)
}

// RecordFailure rotates stale windows, then increments failure counters.
func (s *Service) RecordFailure(ctx context.Context, mailboxID string) error {
	if err := s.rotate(ctx, mailboxID); err != nil {
		return err
	}
	return s.repo.IncrementFailure(ctx, mailboxID)
}

// rotate zeroes every window whose age has reached its duration and
// creates the metrics row on first touch.
func (s *Service) rotate(ctx context.Context, mailboxID string) error {
	m, err := s.repo.Get(ctx, mailboxID)
	if errors.Is(err, ErrNotFound) {
		return s.bootstrap(ctx, mailboxID)
	}
	if err != nil {
		return fmt.Errorf("load metrics %s: %w", mailboxID, err)
	}

	now := s.now().UTC()
	for _, w := range []struct {
		window Window
		start  time.Time
	}{
		{Window1h, m.Window1h},
		{Window24h, m.Window24h},
		{Window7d, m.Window7d},
	} {
		if now.Sub(w.start) >= w.window.Duration() {
			if err := s.repo.ResetWindow(ctx, mailboxID, w.window, now); err != nil {
				return fmt.Errorf("rotate %s window for %s: %w", w.window, mailboxID, err)
			}
		}
	}
	return nil
}

func (s *Service) bootstrap(ctx context.Context, mailboxID string) error {
	now := s.now().UTC()
	m := &domain.MailboxMetrics{
		MailboxID: mailboxID,
		Window1h:  now,
		Window24h: now,
		Window7d:  now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("bootstrap metrics %s: %w", mailboxID, err)
	}
	return nil
}

// Recompute derives the current risk picture for a mailbox and
// persists it. The velocity compares this cycle's 24h rates against
// the previous cycle's.
func (s *Service) Recompute(ctx context.Context, mb *domain.Mailbox) (*Snapshot, error) {
	if err := s.rotate(ctx, mb.ID); err != nil {
		return nil, err
	}
	m, err := s.repo.Get(ctx, mb.ID)
	if err != nil {
		return nil, fmt.Errorf("load metrics %s: %w", mb.ID, err)
	}

	r1h := risk.Rates(m.Sent1h, m.Bounce1h, m.Failure1h)
	r24h := risk.Rates(m.Sent24h, m.Bounce24h, m.Failure24h)
	velocity := risk.Velocity(r24h.BounceRate-m.PrevBounceRate, r24h.FailureRate-m.PrevFailureRate)

	score := risk.Score(risk.Inputs{
		Window1h:          r1h,
		Window24h:         r24h,
		Velocity:          velocity,
		ConsecutivePauses: mb.ConsecutivePauses,
	})

	snap := &Snapshot{
		MailboxID: mb.ID,
		RiskScore: score,
		RiskLevel: risk.Level(score),
		HardScore: risk.HardScore(r24h),
		SoftScore: risk.SoftScore(velocity, mb.WarningCount),
		Velocity:  velocity,
		Rates1h:   r1h,
		Rates24h:  r24h,
	}

	if err := s.repo.UpdateRisk(ctx, mb.ID, score, velocity, r24h.BounceRate, r24h.FailureRate); err != nil {
		return nil, fmt.Errorf("persist risk %s: %w", mb.ID, err)
	}

	if snap.RiskLevel == risk.LevelCritical {
		s.log.Warn("mailbox risk critical",
			"mailbox_id", mb.ID, "risk_score", fmt.Sprintf("%.1f", score), "hard_score", fmt.Sprintf("%.1f", snap.HardScore))
	}
	return snap, nil
}
