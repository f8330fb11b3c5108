package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/correlation"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// transition captures one TransitionMailbox/TransitionDomain call.
type transition struct {
	entityID string
	to       domain.HealthState
	effects  *statemachine.PauseEffects
	reason   string
}

// fakeRepo is an in-memory Repository recording every mutation.
type fakeRepo struct {
	org       *domain.Organization
	mailboxes map[string]*domain.Mailbox
	domains   map[string]*domain.SendingDomain

	counts WindowCounts // returned by counter increments

	mailboxTransitions []transition
	domainTransitions  []transition
	pausedCampaigns    []string
	restrictions       []domain.EmailProvider
	notifications      []*domain.Notification
	audits             []*domain.AuditLog
	cleanSendsResets   int
	warningIncrements  int
	slides             int
}

func newRepo(mode domain.SystemMode) *fakeRepo {
	return &fakeRepo{
		org:       &domain.Organization{ID: "org-1", SystemMode: mode, AssessmentCompleted: true},
		mailboxes: make(map[string]*domain.Mailbox),
		domains:   make(map[string]*domain.SendingDomain),
	}
}

func (r *fakeRepo) GetOrganization(context.Context, string) (*domain.Organization, error) {
	return r.org, nil
}

func (r *fakeRepo) GetMailbox(_ context.Context, id string) (*domain.Mailbox, error) {
	mb, ok := r.mailboxes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mb, nil
}

func (r *fakeRepo) GetDomain(_ context.Context, id string) (*domain.SendingDomain, error) {
	d, ok := r.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (r *fakeRepo) MailboxesByDomain(_ context.Context, domainID string) ([]*domain.Mailbox, error) {
	var out []*domain.Mailbox
	for _, mb := range r.mailboxes {
		if mb.DomainID == domainID {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (r *fakeRepo) IncrementSendCounters(context.Context, string, time.Time) (WindowCounts, error) {
	return r.counts, nil
}

func (r *fakeRepo) IncrementBounceCounters(context.Context, string, bool, time.Time) (WindowCounts, error) {
	return r.counts, nil
}

func (r *fakeRepo) SlideWindow(context.Context, string, time.Time) (WindowCounts, error) {
	r.slides++
	return WindowCounts{Sent: r.counts.Sent / 2, Bounced: r.counts.Bounced / 2}, nil
}

func (r *fakeRepo) AddProviderRestriction(_ context.Context, _ string, p domain.EmailProvider) error {
	r.restrictions = append(r.restrictions, p)
	return nil
}

func (r *fakeRepo) ResetCleanSends(context.Context, string) error {
	r.cleanSendsResets++
	return nil
}

func (r *fakeRepo) IncrementWarningCount(context.Context, string) error {
	r.warningIncrements++
	return nil
}

func (r *fakeRepo) TransitionMailbox(_ context.Context, mb *domain.Mailbox, to domain.HealthState, effects *statemachine.PauseEffects, reason, _ string) error {
	r.mailboxTransitions = append(r.mailboxTransitions, transition{mb.ID, to, effects, reason})
	r.mailboxes[mb.ID].Status = to
	return nil
}

func (r *fakeRepo) TransitionDomain(_ context.Context, d *domain.SendingDomain, to domain.HealthState, effects *statemachine.PauseEffects, reason, _ string) error {
	r.domainTransitions = append(r.domainTransitions, transition{d.ID, to, effects, reason})
	r.domains[d.ID].Status = to
	return nil
}

func (r *fakeRepo) PauseCampaign(_ context.Context, id, _ string) error {
	r.pausedCampaigns = append(r.pausedCampaigns, id)
	return nil
}

func (r *fakeRepo) InsertNotification(_ context.Context, n *domain.Notification) error {
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *fakeRepo) InsertAudit(_ context.Context, a *domain.AuditLog) error {
	r.audits = append(r.audits, a)
	return nil
}

func (r *fakeRepo) addMailbox(id string, status domain.HealthState) *domain.Mailbox {
	mb := &domain.Mailbox{
		ID:              id,
		OrganizationID:  "org-1",
		DomainID:        "dom-1",
		Email:           id + "@send.example",
		Status:          status,
		ResilienceScore: 50,
	}
	r.mailboxes[id] = mb
	return mb
}

func (r *fakeRepo) addDomain(id string, status domain.HealthState) *domain.SendingDomain {
	d := &domain.SendingDomain{
		ID:              id,
		OrganizationID:  "org-1",
		Name:            id + ".example",
		Status:          status,
		ResilienceScore: 50,
	}
	r.domains[id] = d
	return d
}

type fakeMetrics struct{ sent, bounced, failed int }

func (m *fakeMetrics) RecordSent(context.Context, string) error    { m.sent++; return nil }
func (m *fakeMetrics) RecordBounce(context.Context, string) error  { m.bounced++; return nil }
func (m *fakeMetrics) RecordFailure(context.Context, string) error { m.failed++; return nil }

type fakeCorrelator struct{ result *correlation.Result }

func (c *fakeCorrelator) Analyze(context.Context, *domain.Mailbox) (*correlation.Result, error) {
	if c.result != nil {
		return c.result, nil
	}
	return &correlation.Result{Outcome: correlation.OutcomePauseMailbox, Reason: "correlation: isolated"}, nil
}

type fakeHealer struct {
	relapses   []string
	recoveries []string
}

func (h *fakeHealer) Relapse(_ context.Context, mb *domain.Mailbox, _ string) error {
	h.relapses = append(h.relapses, mb.ID)
	return nil
}

func (h *fakeHealer) Recover(_ context.Context, mb *domain.Mailbox, _ string) error {
	h.recoveries = append(h.recoveries, mb.ID)
	return nil
}

type fakeRemover struct{ removed []string }

func (p *fakeRemover) RemoveMailboxFromCampaigns(_ context.Context, _, mailboxID string) error {
	p.removed = append(p.removed, mailboxID)
	return nil
}

func testMonitor(repo *fakeRepo, corr *fakeCorrelator) (*Service, *fakeMetrics, *fakeHealer, *fakeRemover) {
	metrics := &fakeMetrics{}
	healer := &fakeHealer{}
	remover := &fakeRemover{}
	cfg, _ := config.Load("")
	svc := NewService(repo, metrics, corr, healer, remover, cfg.Thresholds)
	return svc, metrics, healer, remover
}

func bounceEvent(mailboxID, reason string) *domain.RawEvent {
	return &domain.RawEvent{
		ID:             "ev-1",
		OrganizationID: "org-1",
		EventType:      domain.EventHardBounce,
		EntityType:     domain.EntityMailbox,
		EntityID:       mailboxID,
		Payload:        map[string]any{"bounce_reason": reason, "recipient_email": "x@custom.example"},
	}
}

func sentEvent(mailboxID string) *domain.RawEvent {
	return &domain.RawEvent{
		ID:             "ev-2",
		OrganizationID: "org-1",
		EventType:      domain.EventEmailSent,
		EntityType:     domain.EntityMailbox,
		EntityID:       mailboxID,
	}
}

func TestFiveBouncePause(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.addDomain("dom-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 20, Bounced: 5}
	svc, _, _, remover := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	require.Len(t, repo.mailboxTransitions, 1)
	tr := repo.mailboxTransitions[0]
	assert.Equal(t, domain.StatePaused, tr.to)
	require.NotNil(t, tr.effects)
	assert.Equal(t, 1, tr.effects.ConsecutivePauses)
	assert.Equal(t, 35, tr.effects.ResilienceScore)
	assert.Equal(t, []string{"mb-1"}, remover.removed)
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, "mailbox_paused", repo.notifications[0].Kind)
}

func TestThreeOfSixtyWarning(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 60, Bounced: 3}
	svc, _, _, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	require.Len(t, repo.mailboxTransitions, 1)
	tr := repo.mailboxTransitions[0]
	assert.Equal(t, domain.StateWarning, tr.to)
	assert.Nil(t, tr.effects, "warning carries no cooldown or resilience penalty")
	assert.Equal(t, 1, repo.warningIncrements)
}

func TestTransientBounceOnlyAudits(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 10, Bounced: 9} // would pause if counted
	svc, metrics, _, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "421 4.7.0 try again later"))
	require.NoError(t, err)

	assert.Zero(t, metrics.bounced)
	assert.Empty(t, repo.mailboxTransitions)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "transient_bounce", repo.audits[0].Action)
}

func TestCorrelationDomainEscalationCascades(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addDomain("dom-1", domain.StateHealthy)
	repo.addMailbox("mb-1", domain.StatePaused)
	repo.addMailbox("mb-2", domain.StatePaused)
	repo.addMailbox("mb-3", domain.StateHealthy)
	repo.addMailbox("mb-4", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 20, Bounced: 5}
	corr := &fakeCorrelator{result: &correlation.Result{
		Outcome: correlation.OutcomePauseDomain,
		Reason:  "correlation: 2 of 3 sibling mailboxes failing",
	}}
	svc, _, _, _ := testMonitor(repo, corr)

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-3", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	require.Len(t, repo.domainTransitions, 1)
	assert.Equal(t, domain.StatePaused, repo.domainTransitions[0].to)
	assert.Contains(t, repo.domainTransitions[0].reason, "correlation")

	// mb-3 and mb-4 cascade-paused; mb-1/mb-2 already paused stay put
	require.Len(t, repo.mailboxTransitions, 2)
	for _, tr := range repo.mailboxTransitions {
		assert.Equal(t, domain.StatePaused, tr.to)
		assert.Contains(t, tr.reason, "cascade")
	}
}

func TestCorrelationCampaignRedirect(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 20, Bounced: 5}
	corr := &fakeCorrelator{result: &correlation.Result{
		Outcome:    correlation.OutcomePauseCampaign,
		CampaignID: "camp-1",
		Reason:     "correlation: campaign concentration",
	}}
	svc, _, _, _ := testMonitor(repo, corr)

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	assert.Equal(t, []string{"camp-1"}, repo.pausedCampaigns)
	assert.Empty(t, repo.mailboxTransitions, "mailbox stays active on redirect")
}

func TestCorrelationProviderRestriction(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 20, Bounced: 5}
	corr := &fakeCorrelator{result: &correlation.Result{
		Outcome:  correlation.OutcomeRestrictProvider,
		Provider: domain.ProviderGmail,
		Reason:   "correlation: provider concentration",
	}}
	svc, _, _, _ := testMonitor(repo, corr)

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	assert.Equal(t, []domain.EmailProvider{domain.ProviderGmail}, repo.restrictions)
	assert.Empty(t, repo.mailboxTransitions)
}

func TestObserveModeNeverMutates(t *testing.T) {
	repo := newRepo(domain.ModeObserve)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.addDomain("dom-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 20, Bounced: 5}
	svc, _, _, remover := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	assert.Empty(t, repo.mailboxTransitions)
	assert.Empty(t, remover.removed)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "would_pause_mailbox", repo.audits[0].Action)
}

func TestSuggestModeNotifiesOnly(t *testing.T) {
	repo := newRepo(domain.ModeSuggest)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 20, Bounced: 5}
	svc, _, _, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	assert.Empty(t, repo.mailboxTransitions)
	require.Len(t, repo.notifications, 1)
	assert.Equal(t, "suggest_pause_mailbox", repo.notifications[0].Kind)
}

func TestRelapseDuringRecoveryPhase(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateRestrictedSend)
	repo.counts = WindowCounts{Sent: 10, Bounced: 1}
	svc, _, healer, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordBounce(context.Background(), bounceEvent("mb-1", "550 5.1.1 user unknown"))
	require.NoError(t, err)

	assert.Equal(t, 1, repo.cleanSendsResets)
	assert.Equal(t, []string{"mb-1"}, healer.relapses)
	assert.Empty(t, repo.mailboxTransitions, "relapse path belongs to healing, not the monitor")
}

func TestRecordSentSlidesWindowAtCapacity(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateHealthy)
	repo.counts = WindowCounts{Sent: 100, Bounced: 8}
	svc, metrics, _, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordSent(context.Background(), sentEvent("mb-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, repo.slides)
	assert.Equal(t, 1, metrics.sent)
}

func TestRecordSentRecoversRecoveringMailbox(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateRecovering)
	repo.counts = WindowCounts{Sent: 50, Bounced: 1} // 2% < 3%
	svc, _, healer, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordSent(context.Background(), sentEvent("mb-1"))
	require.NoError(t, err)

	// the healer owns the write so cooldown and pause state are cleared
	// together with the status change
	assert.Equal(t, []string{"mb-1"}, healer.recoveries)
	assert.Empty(t, repo.mailboxTransitions)
}

func TestRecordSentRecoveringStillBouncy(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	repo.addMailbox("mb-1", domain.StateRecovering)
	repo.counts = WindowCounts{Sent: 50, Bounced: 5} // 10%
	svc, _, healer, _ := testMonitor(repo, &fakeCorrelator{})

	err := svc.RecordSent(context.Background(), sentEvent("mb-1"))
	require.NoError(t, err)
	assert.Empty(t, healer.recoveries)
	assert.Empty(t, repo.mailboxTransitions)
}

func TestCheckDomainHealthLargeDomainRatio(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	dom := repo.addDomain("dom-1", domain.StateHealthy)
	repo.addMailbox("mb-1", domain.StatePaused)
	repo.addMailbox("mb-2", domain.StatePaused)
	repo.addMailbox("mb-3", domain.StateHealthy)
	repo.addMailbox("mb-4", domain.StateHealthy)
	svc, _, _, _ := testMonitor(repo, &fakeCorrelator{})

	// 2 of 4 unhealthy = 50% -> pause with cascade
	err := svc.CheckDomainHealth(context.Background(), repo.org, dom)
	require.NoError(t, err)

	require.Len(t, repo.domainTransitions, 1)
	assert.Equal(t, domain.StatePaused, repo.domainTransitions[0].to)
	assert.Len(t, repo.mailboxTransitions, 2)
}

func TestCheckDomainHealthWarnRatio(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	dom := repo.addDomain("dom-1", domain.StateHealthy)
	repo.addMailbox("mb-1", domain.StateWarning)
	repo.addMailbox("mb-2", domain.StateHealthy)
	repo.addMailbox("mb-3", domain.StateHealthy)
	svc, _, _, _ := testMonitor(repo, &fakeCorrelator{})

	// 1 of 3 ~ 33% -> warn only
	err := svc.CheckDomainHealth(context.Background(), repo.org, dom)
	require.NoError(t, err)

	require.Len(t, repo.domainTransitions, 1)
	assert.Equal(t, domain.StateWarning, repo.domainTransitions[0].to)
	assert.Empty(t, repo.mailboxTransitions)
}

func TestCheckDomainHealthSmallDomain(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	dom := repo.addDomain("dom-1", domain.StateHealthy)
	repo.addMailbox("mb-1", domain.StatePaused)
	repo.addMailbox("mb-2", domain.StatePaused)
	svc, _, _, _ := testMonitor(repo, &fakeCorrelator{})

	// small domain: 2 unhealthy -> pause
	err := svc.CheckDomainHealth(context.Background(), repo.org, dom)
	require.NoError(t, err)

	require.Len(t, repo.domainTransitions, 1)
	assert.Equal(t, domain.StatePaused, repo.domainTransitions[0].to)
}

func TestSpamComplaintAuditsOnly(t *testing.T) {
	repo := newRepo(domain.ModeEnforce)
	svc, _, _, _ := testMonitor(repo, &fakeCorrelator{})

	e := &domain.RawEvent{
		OrganizationID: "org-1",
		EventType:      domain.EventSpamComplaint,
		EntityType:     domain.EntityMailbox,
		EntityID:       "mb-1",
	}
	require.NoError(t, svc.RecordSpamComplaint(context.Background(), e))
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "spam_complaint", repo.audits[0].Action)
}
