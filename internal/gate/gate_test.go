package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/domain"
)

type fakeRepo struct {
	org             *domain.Organization
	campaign        *domain.Campaign
	total           int
	eligible        []*domain.Mailbox
	resilience      float64
	metrics         map[string]*domain.MailboxMetrics
	domRecovering   bool
	orgIsRecovering bool

	audits        []*domain.AuditLog
	notifications []*domain.Notification
}

func (f *fakeRepo) GetOrganization(_ context.Context, id string) (*domain.Organization, error) {
	if f.org == nil || f.org.ID != id {
		return nil, errors.New("org not found")
	}
	return f.org, nil
}

func (f *fakeRepo) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	if f.campaign == nil || f.campaign.ID != id {
		return nil, errors.New("campaign not found")
	}
	return f.campaign, nil
}

func (f *fakeRepo) CountMailboxes(context.Context, string) (int, error) { return f.total, nil }

func (f *fakeRepo) EligibleMailboxes(context.Context, string, time.Time) ([]*domain.Mailbox, error) {
	return f.eligible, nil
}

func (f *fakeRepo) AvgResilience(context.Context, string) (float64, error) {
	return f.resilience, nil
}

func (f *fakeRepo) MetricsFor(_ context.Context, id string) (*domain.MailboxMetrics, error) {
	return f.metrics[id], nil
}

func (f *fakeRepo) DomainRecovering(context.Context, string) (bool, error) {
	return f.domRecovering, nil
}

func (f *fakeRepo) OrgRecovering(context.Context, string) (bool, error) {
	return f.orgIsRecovering, nil
}

func (f *fakeRepo) InsertAudit(_ context.Context, a *domain.AuditLog) error {
	f.audits = append(f.audits, a)
	return nil
}

func (f *fakeRepo) InsertNotification(_ context.Context, n *domain.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

type fakeThrottle struct {
	mailboxSent int
	domainSent  int
	orgSent     int
}

func (f *fakeThrottle) MailboxSentToday(context.Context, string) (int, error) {
	return f.mailboxSent, nil
}

func (f *fakeThrottle) DomainSentToday(context.Context, string) (int, error) {
	return f.domainSent, nil
}

func (f *fakeThrottle) OrgSentToday(context.Context, string) (int, error) {
	return f.orgSent, nil
}

func thresholds() config.ThresholdConfig {
	cfg, _ := config.Load("")
	return cfg.Thresholds
}

func healthyRepo(mode domain.SystemMode) *fakeRepo {
	return &fakeRepo{
		org: &domain.Organization{
			ID:                  "org-1",
			SystemMode:          mode,
			AssessmentCompleted: true,
		},
		campaign:   &domain.Campaign{ID: "camp-1", OrganizationID: "org-1", Status: domain.CampaignActive},
		total:      2,
		resilience: 80,
		eligible: []*domain.Mailbox{
			{ID: "mb-1", OrganizationID: "org-1", DomainID: "dom-1", Status: domain.StateHealthy, ResilienceScore: 80},
			{ID: "mb-2", OrganizationID: "org-1", DomainID: "dom-1", Status: domain.StateHealthy, ResilienceScore: 80},
		},
		metrics: map[string]*domain.MailboxMetrics{
			"mb-1": {MailboxID: "mb-1", Sent24h: 200, Bounce24h: 1},
			"mb-2": {MailboxID: "mb-2", Sent24h: 180, Bounce24h: 0},
		},
	}
}

func newGate(repo *fakeRepo, th Throttle) *Service {
	s := NewService(repo, th, thresholds())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestAllChecksPassEnforce(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	s := newGate(repo, &fakeThrottle{domainSent: 5, orgSent: 20})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	assert.Equal(t, "all checks passed", res.Reason)
	assert.Nil(t, res.FailureType)
	for _, name := range []string{CheckAssessment, CheckInfraResilience, CheckCampaignActive, CheckMailboxReady, CheckBelowCapacity, CheckRiskAcceptable} {
		assert.True(t, res.Checks[name], name)
	}
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "gate_allowed", repo.audits[0].Action)
	assert.Equal(t, "lead-1", repo.audits[0].EntityID)
}

func TestAssessmentGateBlocksFirst(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.org.AssessmentCompleted = false
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	require.NotNil(t, res.FailureType)
	assert.Equal(t, FailureSync, *res.FailureType)
	assert.False(t, res.Retryable)
	assert.True(t, res.Deferrable)
	// later checks never ran
	_, ran := res.Checks[CheckCampaignActive]
	assert.False(t, ran)
}

func TestResilienceBelow25BlocksHard(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.resilience = 20
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	require.NotNil(t, res.FailureType)
	assert.Equal(t, FailureHealth, *res.FailureType)
	assert.True(t, res.Deferrable)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Reason, "resilience")
}

func TestResilienceMidBandAllowsWithRecommendation(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.resilience = 40
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	require.NotEmpty(t, res.Recommendations)
	assert.Contains(t, res.Recommendations[0], "acknowledgment")
}

func TestInactiveCampaignBlocks(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.campaign.Status = domain.CampaignPaused
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	require.NotNil(t, res.FailureType)
	assert.Equal(t, FailureSync, *res.FailureType)
}

func TestNoMailboxesAtAllIsSyncIssue(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.eligible = nil
	repo.total = 0
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.Equal(t, FailureSync, *res.FailureType)
	assert.Empty(t, repo.notifications)
}

func TestNoHealthyMailboxIsHealthIssueWithCriticalAlert(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.eligible = nil
	repo.total = 4
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.Equal(t, FailureHealth, *res.FailureType)
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, domain.SeverityCritical, repo.notifications[0].Severity)
	assert.Equal(t, "no_healthy_mailbox", repo.notifications[0].Kind)
}

func TestDomainDailyCapBlocksWhileRecovering(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.domRecovering = true
	s := newGate(repo, &fakeThrottle{domainSent: 30, orgSent: 40})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.False(t, res.Checks[CheckBelowCapacity])
	assert.Equal(t, FailureHealth, *res.FailureType)
	assert.Contains(t, res.Reason, "throttle")
}

func TestOrgDailyCapBlocksWhileRecovering(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.orgIsRecovering = true
	s := newGate(repo, &fakeThrottle{domainSent: 2, orgSent: 100})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.False(t, res.Checks[CheckBelowCapacity])
}

func TestDailyCapsIgnoredWhenFleetHealthy(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	s := newGate(repo, &fakeThrottle{domainSent: 500, orgSent: 5000})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed, "caps bind only while something is recovering")
	assert.True(t, res.Checks[CheckBelowCapacity])
}

func TestOrgCapSparesUnrelatedRecoveringDomain(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.domRecovering = true // selected mailbox's domain recovering, under its cap
	s := newGate(repo, &fakeThrottle{domainSent: 10, orgSent: 100})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed, "org cap needs org-level recovery, domain cap not reached")
}

func TestPhaseVolumeLimitCapsRecoveryMailbox(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.eligible = []*domain.Mailbox{{
		ID: "mb-q", OrganizationID: "org-1", DomainID: "dom-1", Email: "q@send.example",
		Status: domain.StateQuarantine, RecoveryPhase: domain.PhaseQuarantine, ResilienceScore: 50,
	}}
	s := newGate(repo, &fakeThrottle{mailboxSent: 5})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.False(t, res.Checks[CheckBelowCapacity])
	assert.Contains(t, res.Reason, "volume limit")
}

func TestWarningVolumeLimitScalesWithResilience(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	repo.eligible = []*domain.Mailbox{{
		ID: "mb-w", OrganizationID: "org-1", DomainID: "dom-1", Email: "w@send.example",
		Status: domain.StateWarning, RecoveryPhase: domain.PhaseHealthy, ResilienceScore: 20,
	}}
	repo.metrics = map[string]*domain.MailboxMetrics{
		"mb-w": {MailboxID: "mb-w", Sent24h: 100, Bounce24h: 0},
	}

	// resilience 20 halves the warning allowance to 25
	s := newGate(repo, &fakeThrottle{mailboxSent: 25})
	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	s = newGate(repo, &fakeThrottle{mailboxSent: 24})
	res, err = s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestHardRiskCriticalBlocks(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	// 30% bounce rate in the 24h window caps the hard bounce component
	// at 40 and pushes the hard failure component past critical.
	repo.metrics = map[string]*domain.MailboxMetrics{
		"mb-1": {MailboxID: "mb-1", Sent24h: 100, Bounce24h: 30, Failure24h: 30},
		"mb-2": {MailboxID: "mb-2", Sent24h: 100, Bounce24h: 30, Failure24h: 30},
	}
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.False(t, res.Checks[CheckRiskAcceptable])
	assert.GreaterOrEqual(t, res.RiskScore, 60.0)
	assert.Equal(t, FailureHealth, *res.FailureType)
}

func TestObserveModeAllowsButRecordsWouldFail(t *testing.T) {
	repo := healthyRepo(domain.ModeObserve)
	repo.org.AssessmentCompleted = false
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	assert.Contains(t, res.Reason, "would block")
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "gate_would_fail_observe", repo.audits[0].Action)
}

func TestObserveModePassRecordsPassedObserve(t *testing.T) {
	repo := healthyRepo(domain.ModeObserve)
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "gate_passed_observe", repo.audits[0].Action)
}

func TestSuggestModeAllowsWithRecommendation(t *testing.T) {
	repo := healthyRepo(domain.ModeSuggest)
	repo.campaign.Status = domain.CampaignCompleted
	s := newGate(repo, &fakeThrottle{})

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	require.NotEmpty(t, res.Recommendations)
	assert.Contains(t, res.Recommendations[len(res.Recommendations)-1], "defer dispatch")
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "gate_blocked", repo.audits[0].Action)
}

func TestNilThrottleFailsOpen(t *testing.T) {
	repo := healthyRepo(domain.ModeEnforce)
	s := newGate(repo, nil)

	res, err := s.CanExecuteLead(context.Background(), "org-1", "camp-1", "lead-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Checks[CheckBelowCapacity])
}
