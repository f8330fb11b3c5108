// Package correlation runs before any pause to decide whether the
// failure pattern points past the mailbox: escalate to the domain,
// redirect to a campaign, narrow to a receiving provider, or confirm
// the mailbox pause.
package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/classifier"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// Outcome is the correlation verdict.
type Outcome string

const (
	OutcomePauseDomain      Outcome = "pause_domain"
	OutcomePauseCampaign    Outcome = "pause_campaign"
	OutcomeRestrictProvider Outcome = "restrict_provider"
	OutcomePauseMailbox     Outcome = "pause_mailbox"
)

// Thresholds for the correlation branches.
const (
	lookback = 24 * time.Hour

	// siblingFailRatio: share of sibling mailboxes failing before the
	// whole domain is implicated.
	siblingFailRatio = 0.5
	minSiblings      = 2

	// concentrationRatio: share of recent bounces on one campaign or
	// provider before the pause is redirected or narrowed.
	concentrationRatio = 0.8

	// siblingBounceRatePct marks a sibling as failing even while its
	// status is still healthy.
	siblingBounceRatePct = 5.0
)

// Result carries the verdict plus the target the monitor acts on.
type Result struct {
	Outcome    Outcome              `json:"outcome"`
	Reason     string               `json:"reason"`
	CampaignID string               `json:"campaign_id,omitempty"`
	Provider   domain.EmailProvider `json:"provider,omitempty"`
}

// Repository is the read surface correlation needs. Reads are not
// transactional with the subsequent pause write; a double pause is
// idempotent downstream.
type Repository interface {
	// SiblingMailboxes returns the other mailboxes on the same domain.
	SiblingMailboxes(ctx context.Context, domainID, excludeMailboxID string) ([]*domain.Mailbox, error)

	// RecentBounces returns bounce events for one mailbox since the
	// given time, newest last.
	RecentBounces(ctx context.Context, orgID, mailboxID string, since time.Time) ([]*domain.RawEvent, error)
}

// Service analyzes failure patterns around a mailbox.
type Service struct {
	repo Repository
	now  func() time.Time
	log  *logger.Logger
}

// NewService creates the correlation service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, log: logger.For("correlation")}
}

// Analyze inspects the last 24h around the mailbox and returns exactly
// one verdict. Branch order matters: domain-wide damage outranks
// campaign concentration, which outranks provider concentration.
func (s *Service) Analyze(ctx context.Context, mb *domain.Mailbox) (*Result, error) {
	if r, err := s.checkSiblings(ctx, mb); err != nil {
		return nil, err
	} else if r != nil {
		return r, nil
	}

	bounces, err := s.repo.RecentBounces(ctx, mb.OrganizationID, mb.ID, s.now().Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("load recent bounces for %s: %w", mb.ID, err)
	}

	if r := s.checkCampaignConcentration(bounces); r != nil {
		return r, nil
	}
	if r := s.checkProviderConcentration(bounces); r != nil {
		return r, nil
	}

	return &Result{
		Outcome: OutcomePauseMailbox,
		Reason:  "correlation: failures isolated to this mailbox",
	}, nil
}

func (s *Service) checkSiblings(ctx context.Context, mb *domain.Mailbox) (*Result, error) {
	siblings, err := s.repo.SiblingMailboxes(ctx, mb.DomainID, mb.ID)
	if err != nil {
		return nil, fmt.Errorf("load siblings for %s: %w", mb.ID, err)
	}
	if len(siblings) < minSiblings {
		return nil, nil
	}

	failing := 0
	for _, sib := range siblings {
		if sib.Status == domain.StatePaused || sib.Status == domain.StateWarning ||
			sib.WindowBounceRate()*100 > siblingBounceRatePct {
			failing++
		}
	}
	ratio := float64(failing) / float64(len(siblings))
	if ratio < siblingFailRatio {
		return nil, nil
	}

	return &Result{
		Outcome: OutcomePauseDomain,
		Reason: fmt.Sprintf("correlation: %d of %d sibling mailboxes failing, domain-level issue suspected",
			failing, len(siblings)),
	}, nil
}

func (s *Service) checkCampaignConcentration(bounces []*domain.RawEvent) *Result {
	if len(bounces) == 0 {
		return nil
	}
	byCampaign := map[string]int{}
	for _, e := range bounces {
		if e.CampaignID != nil && *e.CampaignID != "" {
			byCampaign[*e.CampaignID]++
		}
	}
	// concentration only means something when there was a choice
	if len(byCampaign) < 2 {
		return nil
	}

	topID, topCount := "", 0
	for id, n := range byCampaign {
		if n > topCount {
			topID, topCount = id, n
		}
	}
	if float64(topCount)/float64(len(bounces)) < concentrationRatio {
		return nil
	}

	return &Result{
		Outcome:    OutcomePauseCampaign,
		CampaignID: topID,
		Reason: fmt.Sprintf("correlation: %d of %d recent bounces concentrate on campaign %s",
			topCount, len(bounces), topID),
	}
}

func (s *Service) checkProviderConcentration(bounces []*domain.RawEvent) *Result {
	if len(bounces) == 0 {
		return nil
	}
	byProvider := map[domain.EmailProvider]int{}
	for _, e := range bounces {
		p := classifier.ResolveProvider(e.PayloadString("smtp_response"), e.PayloadString("recipient_email"))
		byProvider[p]++
	}

	topProvider, topCount := domain.ProviderOther, 0
	for p, n := range byProvider {
		if n > topCount {
			topProvider, topCount = p, n
		}
	}
	if topProvider == domain.ProviderOther {
		return nil
	}
	if float64(topCount)/float64(len(bounces)) < concentrationRatio {
		return nil
	}

	return &Result{
		Outcome:  OutcomeRestrictProvider,
		Provider: topProvider,
		Reason: fmt.Sprintf("correlation: %d of %d recent bounces rejected by %s, restricting provider instead of pausing",
			topCount, len(bounces), topProvider),
	}
}
