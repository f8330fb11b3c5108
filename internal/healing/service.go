package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

const triggeredBy = "healing"

// RecoveryUpdate is the full set of recovery fields a graduation or
// relapse writes. The repository persists it together with the state
// change, the StateTransition row and the audit entry in one
// transaction.
type RecoveryUpdate struct {
	Status            domain.HealthState
	Phase             domain.RecoveryPhase
	ResilienceScore   int
	ConsecutivePauses int
	CooldownUntil     *time.Time // nil clears the cooldown
	PhaseEnteredAt    time.Time
}

// Repository is the persistence contract for healing.
type Repository interface {
	ApplyMailboxRecovery(ctx context.Context, mb *domain.Mailbox, upd RecoveryUpdate, reason, triggeredBy string) error
	ApplyDomainRecovery(ctx context.Context, d *domain.SendingDomain, upd RecoveryUpdate, reason, triggeredBy string) error

	// AdjustResilience bumps the score by delta, clamped in SQL.
	AdjustResilience(ctx context.Context, entityType domain.EntityType, id string, delta int) error

	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// DNSChecker reports whether a sending domain's DNS posture passes.
// Real SMTP/DNS assessment is an external collaborator; the default
// implementation trusts the persisted dns_verified flag.
type DNSChecker interface {
	Verify(ctx context.Context, d *domain.SendingDomain) (bool, error)
}

// FlagDNSChecker trusts the dns_verified column.
type FlagDNSChecker struct{}

func (FlagDNSChecker) Verify(_ context.Context, d *domain.SendingDomain) (bool, error) {
	return d.DNSVerified, nil
}

// Service drives recovery-phase transitions.
type Service struct {
	repo Repository
	dns  DNSChecker
	now  func() time.Time
	log  *logger.Logger
}

// NewService creates the healing service. A nil dns falls back to the
// flag checker.
func NewService(repo Repository, dns DNSChecker) *Service {
	if dns == nil {
		dns = FlagDNSChecker{}
	}
	return &Service{repo: repo, dns: dns, now: time.Now, log: logger.For("healing")}
}

// GraduateMailbox advances a mailbox one phase when its graduation
// condition holds. Returns true when a transition happened.
func (s *Service) GraduateMailbox(ctx context.Context, mb *domain.Mailbox, dom *domain.SendingDomain) (bool, error) {
	now := s.now().UTC()

	switch mb.Status {
	case domain.StatePaused:
		if !mb.CooldownExpired(now) {
			return false, nil
		}
		return true, s.graduateMailboxTo(ctx, mb, domain.PhaseQuarantine, "cooldown expired")

	case domain.StateQuarantine:
		ok, err := s.dns.Verify(ctx, dom)
		if err != nil {
			return false, fmt.Errorf("dns check %s: %w", dom.Name, err)
		}
		if !ok || !s.phaseHeld(mb.PhaseEnteredAt, QuarantineMinDuration, mb.ResilienceScore, now) {
			return false, nil
		}
		return true, s.graduateMailboxTo(ctx, mb, domain.PhaseRestrictedSend, "dns verified, quarantine served")

	case domain.StateRestrictedSend:
		required := RequiredCleanSends(mb.ConsecutivePauses, mb.RehabOrigin)
		if mb.CleanSendsSincePhase < required {
			return false, nil
		}
		return true, s.graduateMailboxTo(ctx, mb, domain.PhaseWarmRecovery,
			fmt.Sprintf("%d clean sends (required %d)", mb.CleanSendsSincePhase, required))

	case domain.StateWarmRecovery:
		minDays := time.Duration(WarmRecoveryMinDays) * 24 * time.Hour
		if mb.CleanSendsSincePhase < WarmRecoveryMinSends ||
			!s.phaseHeld(mb.PhaseEnteredAt, minDays, mb.ResilienceScore, now) ||
			mb.WindowBounceRate() >= WarmRecoveryBounceRate {
			return false, nil
		}
		return true, s.graduateMailboxTo(ctx, mb, domain.PhaseHealthy, "warm recovery complete")
	}
	return false, nil
}

// GraduateDomain is the domain counterpart of GraduateMailbox.
func (s *Service) GraduateDomain(ctx context.Context, d *domain.SendingDomain) (bool, error) {
	now := s.now().UTC()

	switch d.Status {
	case domain.StatePaused:
		if !d.CooldownExpired(now) {
			return false, nil
		}
		return true, s.graduateDomainTo(ctx, d, domain.PhaseQuarantine, "cooldown expired")

	case domain.StateQuarantine:
		ok, err := s.dns.Verify(ctx, d)
		if err != nil {
			return false, fmt.Errorf("dns check %s: %w", d.Name, err)
		}
		if !ok || !s.phaseHeld(d.PhaseEnteredAt, QuarantineMinDuration, d.ResilienceScore, now) {
			return false, nil
		}
		return true, s.graduateDomainTo(ctx, d, domain.PhaseRestrictedSend, "dns verified, quarantine served")

	case domain.StateRestrictedSend:
		required := RequiredCleanSends(d.ConsecutivePauses, d.RehabOrigin)
		if d.CleanSendsSincePhase < required {
			return false, nil
		}
		return true, s.graduateDomainTo(ctx, d, domain.PhaseWarmRecovery,
			fmt.Sprintf("%d clean sends (required %d)", d.CleanSendsSincePhase, required))

	case domain.StateWarmRecovery:
		minDays := time.Duration(WarmRecoveryMinDays) * 24 * time.Hour
		if d.CleanSendsSincePhase < WarmRecoveryMinSends ||
			!s.phaseHeld(d.PhaseEnteredAt, minDays, d.ResilienceScore, now) {
			return false, nil
		}
		return true, s.graduateDomainTo(ctx, d, domain.PhaseHealthy, "warm recovery complete")
	}
	return false, nil
}

// Recover moves a legacy recovering mailbox straight to healthy. The
// write clears cooldown_until and the pause counter the same way a
// warm-recovery graduation does.
func (s *Service) Recover(ctx context.Context, mb *domain.Mailbox, reason string) error {
	return s.graduateMailboxTo(ctx, mb, domain.PhaseHealthy, reason)
}

// Relapse demotes a recovery-phase mailbox one phase after a
// health-degrading bounce. Quarantine falls back to paused with a
// recomputed cooldown at the raised pause counter.
func (s *Service) Relapse(ctx context.Context, mb *domain.Mailbox, reason string) error {
	if !mb.Status.InRecoveryPhase() {
		return fmt.Errorf("relapse on %s in state %s: not a recovery phase", mb.ID, mb.Status)
	}

	now := s.now().UTC()
	phase := relapseTarget(mb.Status)
	upd := RecoveryUpdate{
		Status:            phase.HealthState(),
		Phase:             phase,
		ResilienceScore:   clampScore(mb.ResilienceScore - ResilienceRelapsePenalty),
		ConsecutivePauses: mb.ConsecutivePauses + 1,
		PhaseEnteredAt:    now,
	}
	if phase == domain.PhasePaused {
		until := now.Add(statemachine.Cooldown(mb.ConsecutivePauses))
		upd.CooldownUntil = &until
	} else {
		upd.CooldownUntil = mb.CooldownUntil
	}

	if err := statemachine.Validate(mb.Status, upd.Status); err != nil {
		return err
	}
	if err := s.repo.ApplyMailboxRecovery(ctx, mb, upd, reason, triggeredBy); err != nil {
		return fmt.Errorf("apply relapse %s: %w", mb.ID, err)
	}

	s.log.Warn("mailbox relapsed",
		"mailbox_id", mb.ID, "from", string(mb.Status), "to", string(upd.Status), "reason", reason)
	return s.repo.InsertNotification(ctx, &domain.Notification{
		ID:             uuid.NewString(),
		OrganizationID: mb.OrganizationID,
		Severity:       domain.SeverityWarning,
		Kind:           "mailbox_relapsed",
		Title:          "Mailbox recovery setback",
		Message:        reason,
		CreatedAt:      now,
	})
}

// WeeklyStabilityBonus grants +5 resilience to a healthy entity whose
// last pause is at least a week old. The worker calls this at most
// once per sweep; the SQL clamp makes over-calling harmless.
func (s *Service) WeeklyStabilityBonus(ctx context.Context, et domain.EntityType, id string, lastPauseAt *time.Time) error {
	if lastPauseAt != nil && s.now().Sub(*lastPauseAt) < StableWeek {
		return nil
	}
	return s.repo.AdjustResilience(ctx, et, id, ResilienceStableWeekBonus)
}

func (s *Service) graduateMailboxTo(ctx context.Context, mb *domain.Mailbox, phase domain.RecoveryPhase, why string) error {
	upd := s.graduationUpdate(phase, mb.ResilienceScore, mb.ConsecutivePauses, mb.CooldownUntil)
	if err := statemachine.Validate(mb.Status, upd.Status); err != nil {
		return err
	}
	reason := fmt.Sprintf("graduation to %s: %s", phase, why)
	if err := s.repo.ApplyMailboxRecovery(ctx, mb, upd, reason, triggeredBy); err != nil {
		return fmt.Errorf("apply graduation %s: %w", mb.ID, err)
	}
	s.log.Info("mailbox graduated",
		"mailbox_id", mb.ID, "from", string(mb.Status), "to", string(upd.Status))
	if phase == domain.PhaseHealthy {
		return s.repo.InsertNotification(ctx, &domain.Notification{
			ID:             uuid.NewString(),
			OrganizationID: mb.OrganizationID,
			Severity:       domain.SeveritySuccess,
			Kind:           "mailbox_recovered",
			Title:          "Mailbox fully recovered",
			Message:        fmt.Sprintf("mailbox %s returned to healthy", mb.Email),
			CreatedAt:      s.now().UTC(),
		})
	}
	return nil
}

func (s *Service) graduateDomainTo(ctx context.Context, d *domain.SendingDomain, phase domain.RecoveryPhase, why string) error {
	upd := s.graduationUpdate(phase, d.ResilienceScore, d.ConsecutivePauses, d.CooldownUntil)
	if err := statemachine.Validate(d.Status, upd.Status); err != nil {
		return err
	}
	reason := fmt.Sprintf("graduation to %s: %s", phase, why)
	if err := s.repo.ApplyDomainRecovery(ctx, d, upd, reason, triggeredBy); err != nil {
		return fmt.Errorf("apply graduation %s: %w", d.ID, err)
	}
	s.log.Info("domain graduated",
		"domain_id", d.ID, "from", string(d.Status), "to", string(upd.Status))
	return nil
}

// graduationUpdate builds the write for one step up the ladder.
// Reaching healthy clears the cooldown and the pause counter.
func (s *Service) graduationUpdate(phase domain.RecoveryPhase, resilience, pauses int, cooldown *time.Time) RecoveryUpdate {
	upd := RecoveryUpdate{
		Status:            phase.HealthState(),
		Phase:             phase,
		ResilienceScore:   clampScore(resilience + ResilienceGraduationBonus),
		ConsecutivePauses: pauses,
		CooldownUntil:     cooldown,
		PhaseEnteredAt:    s.now().UTC(),
	}
	if phase == domain.PhaseHealthy {
		upd.CooldownUntil = nil
		upd.ConsecutivePauses = 0
	}
	return upd
}

// phaseHeld reports whether a phase has been occupied long enough,
// with the resilience speed multiplier applied.
func (s *Service) phaseHeld(enteredAt *time.Time, base time.Duration, resilience int, now time.Time) bool {
	if enteredAt == nil {
		return false
	}
	required := time.Duration(float64(base) * SpeedMultiplier(resilience))
	return now.Sub(*enteredAt) >= required
}

// relapseTarget gives the demotion target for each recovery phase.
// warm_recovery falls to quarantine because the transition table has
// no edge back to restricted_send.
func relapseTarget(st domain.HealthState) domain.RecoveryPhase {
	switch st {
	case domain.StateQuarantine:
		return domain.PhasePaused
	case domain.StateRestrictedSend:
		return domain.PhaseQuarantine
	case domain.StateWarmRecovery:
		return domain.PhaseQuarantine
	default:
		return domain.PhasePaused
	}
}
