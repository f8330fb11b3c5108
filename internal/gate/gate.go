package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/risk"
)

// FailureType is the taxonomy exposed to dispatch callers.
type FailureType string

const (
	FailureHealth FailureType = "HEALTH_ISSUE"
	FailureInfra  FailureType = "INFRA_ISSUE"
	FailureSync   FailureType = "SYNC_ISSUE"
	FailureSoft   FailureType = "SOFT_WARNING"
)

// failureFlags fixes the retry semantics per failure type.
var failureFlags = map[FailureType]struct{ retryable, deferrable bool }{
	FailureHealth: {false, true},
	FailureInfra:  {true, false},
	FailureSync:   {false, true},
	FailureSoft:   {false, false},
}

// Check names, in evaluation order.
const (
	CheckAssessment      = "assessmentCompleted"
	CheckInfraResilience = "infraResilience"
	CheckCampaignActive  = "campaignActive"
	CheckMailboxReady    = "mailboxAvailable"
	CheckBelowCapacity   = "belowCapacity"
	CheckRiskAcceptable  = "riskAcceptable"
)

// Infra resilience bands for the healing transition gate.
const (
	resilienceBlockBelow = 25
	resilienceAutoAllow  = 60
)

// Result is the gate's verdict.
type Result struct {
	Allowed         bool              `json:"allowed"`
	Reason          string            `json:"reason"`
	RiskScore       float64           `json:"risk_score"`
	Checks          map[string]bool   `json:"checks"`
	Recommendations []string          `json:"recommendations"`
	FailureType     *FailureType      `json:"failure_type,omitempty"`
	Retryable       bool              `json:"retryable"`
	Deferrable      bool              `json:"deferrable"`
	Mode            domain.SystemMode `json:"mode"`
}

// Repository is the read surface the gate consults.
type Repository interface {
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// CountMailboxes counts all mailboxes in the org, any state.
	CountMailboxes(ctx context.Context, orgID string) (int, error)

	// EligibleMailboxes returns mailboxes with status healthy, expired
	// or absent cooldown, and a healthy owning domain.
	EligibleMailboxes(ctx context.Context, orgID string, now time.Time) ([]*domain.Mailbox, error)

	// AvgResilience averages resilience over the org's mailboxes.
	AvgResilience(ctx context.Context, orgID string) (float64, error)

	// MetricsFor returns the metrics row for one mailbox, or nil when
	// none exists yet.
	MetricsFor(ctx context.Context, mailboxID string) (*domain.MailboxMetrics, error)

	// DomainRecovering reports whether the domain or any of its
	// mailboxes sits outside healthy/warning.
	DomainRecovering(ctx context.Context, domainID string) (bool, error)

	// OrgRecovering is the organization-wide counterpart.
	OrgRecovering(ctx context.Context, orgID string) (bool, error)

	InsertAudit(ctx context.Context, a *domain.AuditLog) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// Throttle reads the daily send counters.
type Throttle interface {
	MailboxSentToday(ctx context.Context, mailboxID string) (int, error)
	DomainSentToday(ctx context.Context, domainID string) (int, error)
	OrgSentToday(ctx context.Context, orgID string) (int, error)
}

// Service is the execution gate.
type Service struct {
	repo       Repository
	throttle   Throttle
	thresholds config.ThresholdConfig
	now        func() time.Time
	log        *logger.Logger
}

// NewService creates the gate.
func NewService(repo Repository, throttle Throttle, thresholds config.ThresholdConfig) *Service {
	return &Service{
		repo:       repo,
		throttle:   throttle,
		thresholds: thresholds,
		now:        time.Now,
		log:        logger.For("gate"),
	}
}

// CanExecuteLead decides whether a lead may be dispatched now. The
// checks short-circuit: the first failure fixes reason and failure
// type. Only the final disposition depends on the system mode.
func (s *Service) CanExecuteLead(ctx context.Context, orgID, campaignID, leadID string) (*Result, error) {
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("gate: load org %s: %w", orgID, err)
	}

	res := &Result{
		Checks: map[string]bool{},
		Mode:   org.SystemMode,
	}

	passed := s.runChecks(ctx, org, campaignID, res)
	s.dispose(org, res, passed)

	if err := s.auditDecision(ctx, org, campaignID, leadID, res, passed); err != nil {
		s.log.Error("gate audit write failed", "lead_id", leadID, "error", err)
	}
	return res, nil
}

// runChecks evaluates the ordered checks, returning overall pass.
func (s *Service) runChecks(ctx context.Context, org *domain.Organization, campaignID string, res *Result) bool {
	now := s.now().UTC()

	// 1. assessment gate
	res.Checks[CheckAssessment] = org.AssessmentCompleted
	if !org.AssessmentCompleted {
		s.fail(res, FailureSync, "infrastructure assessment not completed")
		return false
	}

	// 2. healing transition gate
	resilience, err := s.repo.AvgResilience(ctx, org.ID)
	if err != nil {
		s.fail(res, FailureInfra, "resilience lookup failed: "+err.Error())
		res.Checks[CheckInfraResilience] = false
		return false
	}
	res.Checks[CheckInfraResilience] = resilience >= resilienceBlockBelow
	switch {
	case resilience < resilienceBlockBelow:
		s.fail(res, FailureHealth, fmt.Sprintf("infrastructure resilience %.0f below %d, sending halted", resilience, resilienceBlockBelow))
		return false
	case resilience < resilienceAutoAllow:
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("infrastructure resilience %.0f: operator acknowledgment recommended before scaling volume", resilience))
	}

	// 3. campaign exists and is active
	camp, err := s.repo.GetCampaign(ctx, campaignID)
	active := err == nil && camp.Status == domain.CampaignActive
	res.Checks[CheckCampaignActive] = active
	if !active {
		s.fail(res, FailureSync, "campaign missing or not active")
		return false
	}

	// 4. at least one dispatchable mailbox
	eligible, err := s.repo.EligibleMailboxes(ctx, org.ID, now)
	if err != nil {
		s.fail(res, FailureInfra, "mailbox lookup failed: "+err.Error())
		res.Checks[CheckMailboxReady] = false
		return false
	}
	res.Checks[CheckMailboxReady] = len(eligible) > 0
	if len(eligible) == 0 {
		total, cErr := s.repo.CountMailboxes(ctx, org.ID)
		if cErr == nil && total == 0 {
			s.fail(res, FailureSync, "no mailboxes synced for organization")
		} else {
			s.fail(res, FailureHealth, "no healthy mailbox available")
			s.notifyCritical(ctx, org.ID, campaignID, "no healthy mailbox available for dispatch")
		}
		return false
	}

	// 5. volume caps on the selected mailbox
	selected := eligible[0]
	res.Checks[CheckBelowCapacity] = true
	if s.throttle != nil && !s.checkVolume(ctx, org, selected, res) {
		return false
	}

	// 6. hard risk across the healthy pool; soft signals log only
	hardAvg, softAvg := s.riskAverages(ctx, eligible)
	res.RiskScore = hardAvg
	res.Checks[CheckRiskAcceptable] = hardAvg < s.thresholds.HardRiskCritical
	if hardAvg >= s.thresholds.HardRiskCritical {
		s.fail(res, FailureHealth, fmt.Sprintf("hard risk %.1f at or above critical %.0f", hardAvg, s.thresholds.HardRiskCritical))
		return false
	}
	if softAvg > 0 {
		s.log.Info("soft risk present, allowing",
			"org_id", org.ID, "soft_score", fmt.Sprintf("%.1f", softAvg))
	}

	res.Reason = "all checks passed"
	return true
}

// checkVolume enforces the mailbox's phase volume allowance and the
// aggregate daily caps. The aggregate caps bind only while the domain
// or the org still has entities in recovery; a fully healthy fleet
// sends uncapped. Counter lookups fail open, like the counter store.
func (s *Service) checkVolume(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, res *Result) bool {
	if limit := mailboxVolumeLimit(mb); limit >= 0 {
		sent, _ := s.throttle.MailboxSentToday(ctx, mb.ID)
		if sent >= limit {
			res.Checks[CheckBelowCapacity] = false
			s.fail(res, FailureHealth, fmt.Sprintf("mailbox %s at its %s volume limit (%d/%d today)",
				mb.Email, mb.Status, sent, limit))
			return false
		}
	}

	domRecovering, _ := s.repo.DomainRecovering(ctx, mb.DomainID)
	orgRecovering, _ := s.repo.OrgRecovering(ctx, org.ID)
	if !domRecovering && !orgRecovering {
		return true
	}

	domSent, _ := s.throttle.DomainSentToday(ctx, mb.DomainID)
	orgSent, _ := s.throttle.OrgSentToday(ctx, org.ID)
	domCapped := domRecovering && domSent >= s.thresholds.DomainDailyCap
	orgCapped := orgRecovering && orgSent >= s.thresholds.OrgDailyCap
	if domCapped || orgCapped {
		res.Checks[CheckBelowCapacity] = false
		s.fail(res, FailureHealth, fmt.Sprintf("recovery throttle reached (domain %d/%d, org %d/%d)",
			domSent, s.thresholds.DomainDailyCap, orgSent, s.thresholds.OrgDailyCap))
		return false
	}
	return true
}

// mailboxVolumeLimit maps a mailbox's state to its daily send
// allowance. -1 means unlimited.
func mailboxVolumeLimit(mb *domain.Mailbox) int {
	if mb.Status == domain.StateWarning {
		return healing.WarningVolumeLimit(mb.ResilienceScore)
	}
	return healing.PhaseVolumeLimit(mb.RecoveryPhase, mb.ResilienceScore)
}

func (s *Service) riskAverages(ctx context.Context, mbs []*domain.Mailbox) (hard, soft float64) {
	n := 0
	for _, mb := range mbs {
		m, err := s.repo.MetricsFor(ctx, mb.ID)
		if err != nil || m == nil {
			continue
		}
		hard += risk.HardScore(risk.Rates(m.Sent24h, m.Bounce24h, m.Failure24h))
		soft += risk.SoftScore(m.Velocity, mb.WarningCount)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return hard / float64(n), soft / float64(n)
}

// dispose applies the mode to the raw check outcome.
func (s *Service) dispose(org *domain.Organization, res *Result, passed bool) {
	switch org.SystemMode {
	case domain.ModeObserve:
		res.Allowed = true
		if passed {
			res.Reason = "observe mode: gate passed"
		} else {
			res.Reason = fmt.Sprintf("observe mode: would block (%s)", res.Reason)
		}
	case domain.ModeSuggest:
		res.Allowed = true
		if !passed {
			res.Recommendations = append(res.Recommendations, "suggested: defer dispatch, "+res.Reason)
		}
	default:
		res.Allowed = passed
	}
}

func (s *Service) fail(res *Result, ft FailureType, reason string) {
	res.Reason = reason
	res.FailureType = &ft
	flags := failureFlags[ft]
	res.Retryable = flags.retryable
	res.Deferrable = flags.deferrable
}

func (s *Service) auditDecision(ctx context.Context, org *domain.Organization, campaignID, leadID string, res *Result, passed bool) error {
	action := "gate_blocked"
	if passed {
		action = "gate_allowed"
	}
	if org.SystemMode == domain.ModeObserve {
		if passed {
			action = "gate_passed_observe"
		} else {
			action = "gate_would_fail_observe"
		}
	}
	return s.repo.InsertAudit(ctx, &domain.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		EntityType:     domain.EntityLead,
		EntityID:       leadID,
		Action:         action,
		Detail:         fmt.Sprintf("campaign=%s reason=%s", campaignID, res.Reason),
		CreatedAt:      s.now().UTC(),
	})
}

func (s *Service) notifyCritical(ctx context.Context, orgID, campaignID, msg string) {
	err := s.repo.InsertNotification(ctx, &domain.Notification{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		CampaignID:     &campaignID,
		Severity:       domain.SeverityCritical,
		Kind:           "no_healthy_mailbox",
		Title:          "Dispatch blocked",
		Message:        msg,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		s.log.Error("critical notification failed", "org_id", orgID, "error", err)
	}
}
