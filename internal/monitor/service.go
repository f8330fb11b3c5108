package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/classifier"
	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/correlation"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// recoveredBounceRate is the post-slide bounce rate below which a
// legacy recovering mailbox graduates straight to healthy.
const recoveredBounceRate = 0.03

const triggeredBy = "monitor"

// Correlator is the pre-pause analysis surface.
type Correlator interface {
	Analyze(ctx context.Context, mb *domain.Mailbox) (*correlation.Result, error)
}

// SendRecorder receives each send for daily-cap accounting. Best
// effort: a failed write never blocks event processing.
type SendRecorder interface {
	RecordSend(ctx context.Context, mailboxID, domainID, orgID string) error
}

// Service is the threshold monitor.
type Service struct {
	repo       Repository
	metrics    MetricsRecorder
	correlator Correlator
	healer     Healer
	platforms  PlatformRemover
	sends      SendRecorder
	thresholds config.ThresholdConfig
	now        func() time.Time
	log        *logger.Logger
}

// NewService wires the monitor. platforms may be nil (no adapters
// configured); healer may be nil only in tests.
func NewService(repo Repository, metrics MetricsRecorder, correlator Correlator, healer Healer, platforms PlatformRemover, thresholds config.ThresholdConfig) *Service {
	return &Service{
		repo:       repo,
		metrics:    metrics,
		correlator: correlator,
		healer:     healer,
		platforms:  platforms,
		thresholds: thresholds,
		now:        time.Now,
		log:        logger.For("monitor"),
	}
}

// SetSendRecorder attaches the daily-cap counter store.
func (s *Service) SetSendRecorder(r SendRecorder) {
	s.sends = r
}

// RecordSent processes one EMAIL_SENT event: counters move, the window
// slides at capacity, and a legacy recovering mailbox may graduate.
func (s *Service) RecordSent(ctx context.Context, e *domain.RawEvent) error {
	mb, err := s.repo.GetMailbox(ctx, e.EntityID)
	if err != nil {
		return fmt.Errorf("record sent: %w", err)
	}

	if err := s.metrics.RecordSent(ctx, mb.ID); err != nil {
		return fmt.Errorf("metrics sent %s: %w", mb.ID, err)
	}

	now := s.now().UTC()
	counts, err := s.repo.IncrementSendCounters(ctx, mb.ID, now)
	if err != nil {
		return fmt.Errorf("increment send counters %s: %w", mb.ID, err)
	}

	if s.sends != nil {
		if err := s.sends.RecordSend(ctx, mb.ID, mb.DomainID, mb.OrganizationID); err != nil {
			s.log.Warn("daily send counter write failed",
				"mailbox_id", mb.ID, "error", err)
		}
	}

	if counts.Sent >= s.thresholds.RollingWindowSize {
		counts, err = s.repo.SlideWindow(ctx, mb.ID, now)
		if err != nil {
			return fmt.Errorf("slide window %s: %w", mb.ID, err)
		}
	}

	if mb.Status == domain.StateRecovering && counts.Sent > 0 {
		rate := float64(counts.Bounced) / float64(counts.Sent)
		if rate < recoveredBounceRate {
			org, err := s.repo.GetOrganization(ctx, mb.OrganizationID)
			if err != nil {
				return err
			}
			reason := fmt.Sprintf("recovered: window bounce rate %.1f%% below %.0f%%", rate*100, recoveredBounceRate*100)
			return s.applyPolicy(ctx, org, policyAction{
				action:     "recover_mailbox",
				entityType: domain.EntityMailbox,
				entityID:   mb.ID,
				detail:     reason,
			}, func(ctx context.Context) error {
				return s.healer.Recover(ctx, mb, reason)
			})
		}
	}
	return nil
}

// RecordBounce processes a BOUNCE or HARD_BOUNCE event end to end:
// classify, count, then relapse or threshold-check.
func (s *Service) RecordBounce(ctx context.Context, e *domain.RawEvent) error {
	mb, err := s.repo.GetMailbox(ctx, e.EntityID)
	if err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}

	smtp := e.PayloadString("smtp_response")
	if smtp == "" {
		smtp = e.PayloadString("bounce_reason")
	}
	cls := classifier.Classify(smtp, e.PayloadString("recipient_email"))

	if !cls.DegradesHealth {
		s.log.Info("transient bounce ignored",
			"mailbox_id", mb.ID, "failure_type", string(cls.FailureType))
		return s.audit(ctx, mb.OrganizationID, domain.EntityMailbox, mb.ID,
			"transient_bounce", cls.RawReason)
	}

	if err := s.metrics.RecordBounce(ctx, mb.ID); err != nil {
		return fmt.Errorf("metrics bounce %s: %w", mb.ID, err)
	}
	if cls.FailureType == classifier.AuthFailure {
		if err := s.metrics.RecordFailure(ctx, mb.ID); err != nil {
			return fmt.Errorf("metrics failure %s: %w", mb.ID, err)
		}
	}

	hard := cls.FailureType == classifier.HardInvalid || cls.FailureType == classifier.HardDomain
	counts, err := s.repo.IncrementBounceCounters(ctx, mb.ID, hard, s.now().UTC())
	if err != nil {
		return fmt.Errorf("increment bounce counters %s: %w", mb.ID, err)
	}

	org, err := s.repo.GetOrganization(ctx, mb.OrganizationID)
	if err != nil {
		return err
	}

	if mb.Status.InRecoveryPhase() {
		if err := s.repo.ResetCleanSends(ctx, mb.ID); err != nil {
			return fmt.Errorf("reset clean sends %s: %w", mb.ID, err)
		}
		reason := fmt.Sprintf("relapse: %s bounce during %s", cls.FailureType, mb.Status)
		return s.applyPolicy(ctx, org, policyAction{
			action:     "relapse_mailbox",
			entityType: domain.EntityMailbox,
			entityID:   mb.ID,
			detail:     reason,
		}, func(ctx context.Context) error {
			return s.healer.Relapse(ctx, mb, reason)
		})
	}

	switch {
	case counts.Bounced >= s.thresholds.MailboxPauseBounces:
		return s.pauseMailbox(ctx, org, mb, cls)
	case counts.Bounced >= s.thresholds.MailboxWarningBounces && counts.Sent <= s.thresholds.MailboxWarningWindow:
		return s.warnMailbox(ctx, org, mb, counts)
	}
	return nil
}

// RecordSpamComplaint audits the complaint. No counters move; spam
// complaints influence health only through the platform's own bounces.
func (s *Service) RecordSpamComplaint(ctx context.Context, e *domain.RawEvent) error {
	return s.audit(ctx, e.OrganizationID, e.EntityType, e.EntityID,
		"spam_complaint", e.PayloadString("recipient_email"))
}

// pauseMailbox runs correlation first and acts on the verdict. Only
// the pause_mailbox branch pauses this mailbox directly.
func (s *Service) pauseMailbox(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, cls classifier.Classification) error {
	res, err := s.correlator.Analyze(ctx, mb)
	if err != nil {
		s.log.Error("correlation failed, defaulting to mailbox pause",
			"mailbox_id", mb.ID, "error", err)
		res = &correlation.Result{Outcome: correlation.OutcomePauseMailbox, Reason: "correlation unavailable"}
	}

	switch res.Outcome {
	case correlation.OutcomePauseDomain:
		dom, err := s.repo.GetDomain(ctx, mb.DomainID)
		if err != nil {
			return err
		}
		return s.applyPolicy(ctx, org, policyAction{
			action:     "pause_domain",
			entityType: domain.EntityDomain,
			entityID:   dom.ID,
			detail:     res.Reason,
		}, func(ctx context.Context) error {
			return s.pauseDomain(ctx, dom, res.Reason)
		})

	case correlation.OutcomePauseCampaign:
		return s.applyPolicy(ctx, org, policyAction{
			action:     "pause_campaign",
			entityType: domain.EntityCampaign,
			entityID:   res.CampaignID,
			detail:     res.Reason,
		}, func(ctx context.Context) error {
			if err := s.repo.PauseCampaign(ctx, res.CampaignID, res.Reason); err != nil {
				return err
			}
			return s.notify(ctx, org.ID, &res.CampaignID, domain.SeverityError,
				"campaign_paused", "Campaign paused", res.Reason)
		})

	case correlation.OutcomeRestrictProvider:
		return s.applyPolicy(ctx, org, policyAction{
			action:     "restrict_provider",
			entityType: domain.EntityMailbox,
			entityID:   mb.ID,
			detail:     res.Reason,
		}, func(ctx context.Context) error {
			if err := s.repo.AddProviderRestriction(ctx, mb.ID, res.Provider); err != nil {
				return err
			}
			return s.audit(ctx, org.ID, domain.EntityMailbox, mb.ID,
				"provider_restricted", res.Reason)
		})

	default:
		reason := res.Reason + "; " + string(cls.FailureType)
		return s.applyPolicy(ctx, org, policyAction{
			action:     "pause_mailbox",
			entityType: domain.EntityMailbox,
			entityID:   mb.ID,
			detail:     reason,
		}, func(ctx context.Context) error {
			if err := s.doPauseMailbox(ctx, mb, reason); err != nil {
				return err
			}
			dom, err := s.repo.GetDomain(ctx, mb.DomainID)
			if err != nil {
				return err
			}
			return s.CheckDomainHealth(ctx, org, dom)
		})
	}
}

// doPauseMailbox performs the actual pause plus the best-effort
// platform removal.
func (s *Service) doPauseMailbox(ctx context.Context, mb *domain.Mailbox, reason string) error {
	if err := statemachine.Validate(mb.Status, domain.StatePaused); err != nil {
		return err
	}
	effects := statemachine.Pause(s.now().UTC(), mb.ConsecutivePauses, mb.ResilienceScore)
	if err := s.repo.TransitionMailbox(ctx, mb, domain.StatePaused, &effects, reason, triggeredBy); err != nil {
		return err
	}

	if s.platforms != nil {
		if err := s.platforms.RemoveMailboxFromCampaigns(ctx, mb.OrganizationID, mb.ID); err != nil {
			// local pause stands regardless of the outbound call
			s.log.Error("platform removal failed",
				"mailbox_id", mb.ID, "error", err)
		}
	}

	return s.notify(ctx, mb.OrganizationID, nil, domain.SeverityError,
		"mailbox_paused", "Mailbox paused", reason)
}

func (s *Service) warnMailbox(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, counts WindowCounts) error {
	if mb.Status != domain.StateHealthy {
		return nil
	}
	reason := fmt.Sprintf("%d bounces within %d sends", counts.Bounced, counts.Sent)
	return s.applyPolicy(ctx, org, policyAction{
		action:     "warn_mailbox",
		entityType: domain.EntityMailbox,
		entityID:   mb.ID,
		detail:     reason,
	}, func(ctx context.Context) error {
		if err := s.repo.TransitionMailbox(ctx, mb, domain.StateWarning, nil, reason, triggeredBy); err != nil {
			return err
		}
		return s.repo.IncrementWarningCount(ctx, mb.ID)
	})
}

// pauseDomain pauses the domain and cascades the pause onto every
// still-active child mailbox.
func (s *Service) pauseDomain(ctx context.Context, dom *domain.SendingDomain, reason string) error {
	if dom.Status == domain.StatePaused {
		return nil
	}
	if err := statemachine.Validate(dom.Status, domain.StatePaused); err != nil {
		return err
	}
	effects := statemachine.Pause(s.now().UTC(), dom.ConsecutivePauses, dom.ResilienceScore)
	if err := s.repo.TransitionDomain(ctx, dom, domain.StatePaused, &effects, reason, triggeredBy); err != nil {
		return err
	}

	children, err := s.repo.MailboxesByDomain(ctx, dom.ID)
	if err != nil {
		return fmt.Errorf("load domain mailboxes %s: %w", dom.ID, err)
	}
	for _, child := range children {
		if child.Status != domain.StateHealthy && child.Status != domain.StateWarning {
			continue
		}
		childEffects := statemachine.Pause(s.now().UTC(), child.ConsecutivePauses, child.ResilienceScore)
		cascadeReason := "cascade: " + reason
		if err := s.repo.TransitionMailbox(ctx, child, domain.StatePaused, &childEffects, cascadeReason, triggeredBy); err != nil {
			s.log.Error("cascade pause failed",
				"mailbox_id", child.ID, "error", err)
		}
	}

	return s.notify(ctx, dom.OrganizationID, nil, domain.SeverityError,
		"domain_paused", "Domain paused", reason)
}

// CheckDomainHealth applies the ratio rule and pauses or warns the
// domain. Exported for the metrics worker's aggregation pass.
func (s *Service) CheckDomainHealth(ctx context.Context, org *domain.Organization, dom *domain.SendingDomain) error {
	mbs, err := s.repo.MailboxesByDomain(ctx, dom.ID)
	if err != nil {
		return fmt.Errorf("load domain mailboxes %s: %w", dom.ID, err)
	}
	if len(mbs) == 0 {
		return nil
	}

	unhealthy := 0
	for _, mb := range mbs {
		if mb.Status.Unhealthy() {
			unhealthy++
		}
	}

	var shouldPause, shouldWarn bool
	if len(mbs) >= s.thresholds.DomainMinimumMailboxes {
		ratio := float64(unhealthy) / float64(len(mbs))
		shouldPause = ratio >= s.thresholds.DomainPauseRatio
		shouldWarn = ratio >= s.thresholds.DomainWarnRatio
	} else {
		shouldPause = unhealthy >= 2
		shouldWarn = unhealthy >= 1
	}

	reason := fmt.Sprintf("%d of %d mailboxes unhealthy", unhealthy, len(mbs))
	switch {
	case shouldPause && dom.Status != domain.StatePaused:
		return s.applyPolicy(ctx, org, policyAction{
			action:     "pause_domain",
			entityType: domain.EntityDomain,
			entityID:   dom.ID,
			detail:     reason,
		}, func(ctx context.Context) error {
			return s.pauseDomain(ctx, dom, reason)
		})
	case shouldWarn && dom.Status == domain.StateHealthy:
		return s.applyPolicy(ctx, org, policyAction{
			action:     "warn_domain",
			entityType: domain.EntityDomain,
			entityID:   dom.ID,
			detail:     reason,
		}, func(ctx context.Context) error {
			return s.repo.TransitionDomain(ctx, dom, domain.StateWarning, nil, reason, triggeredBy)
		})
	}
	return nil
}

// policyAction describes an intended mutation for mode gating.
type policyAction struct {
	action     string
	entityType domain.EntityType
	entityID   string
	detail     string
}

// applyPolicy is the single mode gate. Effects run only in enforce;
// suggest raises a notification; observe writes a would_ audit row.
func (s *Service) applyPolicy(ctx context.Context, org *domain.Organization, pa policyAction, effects func(ctx context.Context) error) error {
	switch org.SystemMode {
	case domain.ModeObserve:
		s.log.Info("observe mode, action skipped",
			"action", pa.action, "entity_id", pa.entityID, "detail", pa.detail)
		return s.audit(ctx, org.ID, pa.entityType, pa.entityID, "would_"+pa.action, pa.detail)
	case domain.ModeSuggest:
		return s.notify(ctx, org.ID, nil, domain.SeverityWarning,
			"suggest_"+pa.action, "Suggested action: "+pa.action, pa.detail)
	default:
		return effects(ctx)
	}
}

func (s *Service) audit(ctx context.Context, orgID string, et domain.EntityType, entityID, action, detail string) error {
	return s.repo.InsertAudit(ctx, &domain.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		EntityType:     et,
		EntityID:       entityID,
		Action:         action,
		Detail:         detail,
		CreatedAt:      s.now().UTC(),
	})
}

func (s *Service) notify(ctx context.Context, orgID string, campaignID *string, sev domain.NotificationSeverity, kind, title, message string) error {
	return s.repo.InsertNotification(ctx, &domain.Notification{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		CampaignID:     campaignID,
		Severity:       sev,
		Kind:           kind,
		Title:          title,
		Message:        message,
		CreatedAt:      s.now().UTC(),
	})
}
