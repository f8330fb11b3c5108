package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-engine/internal/api"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/metrics"
	"github.com/ignite/deliverability-engine/internal/platform"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

func TestEventRepoInsertMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO raw_events`).
		WillReturnError(&pq.Error{Code: "23505"})

	repo := NewEventRepo(db)
	key := "evt-1"
	err = repo.Insert(context.Background(), &domain.RawEvent{
		ID:             "e1",
		OrganizationID: "org-1",
		EventType:      domain.EventEmailSent,
		EntityType:     domain.EntityMailbox,
		EntityID:       "mb-1",
		IdempotencyKey: &key,
		CreatedAt:      time.Now(),
	})
	require.ErrorIs(t, err, events.ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoUnprocessedFiltersRetryBudget(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	cols := []string{
		"id", "organization_id", "event_type", "entity_type", "entity_id", "campaign_id",
		"payload", "idempotency_key", "processed", "processed_at", "error_message",
		"retry_count", "created_at",
	}
	mock.ExpectQuery(`FROM raw_events\s+WHERE organization_id = \$1 AND processed = false AND retry_count < 3`).
		WithArgs("org-1", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "org-1", "BOUNCE", "mailbox", "mb-1", nil,
				[]byte(`{"recipient_email":"a@b.com"}`), nil, false, nil, nil, 1, time.Now()))

	repo := NewEventRepo(db)
	got, err := repo.Unprocessed(context.Background(), "org-1", 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventBounce, got[0].EventType)
	assert.Equal(t, "a@b.com", got[0].PayloadString("recipient_email"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitorRepoIncrementSendCountersReturnsWindow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`UPDATE mailboxes\s+SET window_sent_count = window_sent_count \+ 1`).
		WithArgs("mb-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"window_sent_count", "window_bounce_count"}).AddRow(12, 3))

	repo := NewMonitorRepo(db)
	counts, err := repo.IncrementSendCounters(context.Background(), "mb-1", now)
	require.NoError(t, err)
	assert.Equal(t, 12, counts.Sent)
	assert.Equal(t, 3, counts.Bounced)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitorRepoSlideWindowHalvesCounters(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`UPDATE mailboxes\s+SET window_sent_count = window_sent_count / 2`).
		WithArgs("mb-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"window_sent_count", "window_bounce_count"}).AddRow(10, 1))

	repo := NewMonitorRepo(db)
	counts, err := repo.SlideWindow(context.Background(), "mb-1", now)
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitorRepoTransitionMailboxIsOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	effects := statemachine.Pause(now, 0, 50)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE mailboxes\s+SET status = \$2, recovery_phase = \$3, cooldown_until = \$4`).
		WithArgs("mb-1", string(domain.StatePaused), string(effects.RecoveryPhase),
			effects.CooldownUntil, effects.ConsecutivePauses, effects.LastPauseAt,
			effects.ResilienceScore, effects.PhaseEnteredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO state_transitions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewMonitorRepo(db)
	mb := &domain.Mailbox{ID: "mb-1", OrganizationID: "org-1", Status: domain.StateHealthy}
	err = repo.TransitionMailbox(context.Background(), mb, domain.StatePaused, &effects,
		"bounce threshold exceeded", "monitor")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitorRepoTransitionRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE mailboxes SET status = \$2`).
		WithArgs("mb-1", string(domain.StateWarning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO state_transitions`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	repo := NewMonitorRepo(db)
	mb := &domain.Mailbox{ID: "mb-1", OrganizationID: "org-1", Status: domain.StateHealthy}
	err = repo.TransitionMailbox(context.Background(), mb, domain.StateWarning, nil, "warn", "monitor")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationInsertDedupsInSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notifications[\s\S]+WHERE NOT EXISTS`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewMonitorRepo(db)
	err = repo.InsertNotification(context.Background(), &domain.Notification{
		ID:             "n1",
		OrganizationID: "org-1",
		Severity:       domain.SeverityWarning,
		Kind:           "mailbox_paused",
		Title:          "Mailbox paused",
		Message:        "bounce threshold exceeded",
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealingRepoAdjustResilienceClampsInSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE sending_domains\s+SET resilience_score = LEAST\(100, GREATEST\(0, resilience_score \+ \$2\)\)`).
		WithArgs("dom-1", -25).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewHealingRepo(db)
	require.NoError(t, repo.AdjustResilience(context.Background(), domain.EntityDomain, "dom-1", -25))
	require.NoError(t, mock.ExpectationsWereMet())

	err = repo.AdjustResilience(context.Background(), domain.EntityCampaign, "c-1", 5)
	require.Error(t, err)
}

func TestHealingRepoApplyRecoveryRestartsCleanSends(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	upd := healing.RecoveryUpdate{
		Status:          domain.StateRestrictedSend,
		Phase:           domain.PhaseRestrictedSend,
		ResilienceScore: 60,
		PhaseEnteredAt:  now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE mailboxes\s+SET status = \$2, recovery_phase = \$3, resilience_score = \$4,\s+consecutive_pauses = \$5, cooldown_until = \$6, phase_entered_at = \$7,\s+clean_sends_since_phase = 0`).
		WithArgs("mb-1", string(upd.Status), string(upd.Phase), 60, 0, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO state_transitions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewHealingRepo(db)
	mb := &domain.Mailbox{
		ID:             "mb-1",
		OrganizationID: "org-1",
		Status:         domain.StateQuarantine,
		RecoveryPhase:  domain.PhaseQuarantine,
	}
	err = repo.ApplyMailboxRecovery(context.Background(), mb, upd, "clean sends reached", "healing")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsRepoResetWindowRejectsUnknownWindow(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMetricsRepo(db)
	err = repo.ResetWindow(context.Background(), "mb-1", metrics.Window("2h"), time.Now())
	require.Error(t, err)
}

func TestGateRepoMetricsForMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM mailbox_metrics WHERE mailbox_id = \$1`).
		WithArgs("mb-1").
		WillReturnRows(sqlmock.NewRows([]string{"mailbox_id"}))

	repo := NewGateRepo(db)
	m, err := repo.MetricsFor(context.Background(), "mb-1")
	require.NoError(t, err)
	assert.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepoUpsertRemoteMailboxDerivesDomain(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`WITH dom AS \(\s+INSERT INTO sending_domains`).
		WithArgs("eb-9", "org-1", "ops@acme.io", true,
			sqlmock.AnyArg(), "acme.io", string(domain.StateHealthy), string(domain.PhaseHealthy), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewWorkerRepo(db)
	err = repo.UpsertRemoteMailbox(context.Background(), "org-1", platform.RemoteMailbox{
		ID:         "eb-9",
		Email:      "ops@acme.io",
		SMTPStatus: true,
		IMAPStatus: false,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	err = repo.UpsertRemoteMailbox(context.Background(), "org-1", platform.RemoteMailbox{ID: "eb-10", Email: "no-domain"})
	require.Error(t, err)
}

func TestRemoteCampaignStatusMapping(t *testing.T) {
	assert.Equal(t, domain.CampaignActive, remoteCampaignStatus("ACTIVE"))
	assert.Equal(t, domain.CampaignPaused, remoteCampaignStatus("Paused"))
	assert.Equal(t, domain.CampaignCompleted, remoteCampaignStatus("finished"))
	assert.Equal(t, domain.CampaignDraft, remoteCampaignStatus("weird"))
}

func TestAPIRepoAssignLeadsSkipsIneligibleAndCommits(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	campCols := []string{
		"id", "organization_id", "name", "status", "routing_rules",
		"sent_count", "bounce_count", "reply_count", "lead_count", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM campaigns\s+WHERE id = \$1 AND organization_id = \$2\s+FOR UPDATE`).
		WithArgs("camp-1", "org-1").
		WillReturnRows(sqlmock.NewRows(campCols).
			AddRow("camp-1", "org-1", "Outreach Q3", "active", []byte(`{}`), 0, 0, 0, 100, now, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM mailboxes WHERE organization_id = \$1`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leads WHERE assigned_campaign_id = \$1`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100))
	mock.ExpectQuery(`SELECT status FROM leads\s+WHERE id = \$1 AND organization_id = \$2\s+FOR UPDATE`).
		WithArgs("l-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("held"))
	mock.ExpectExec(`UPDATE leads\s+SET assigned_campaign_id = \$2, status = \$3`).
		WithArgs("l-1", "camp-1", domain.LeadActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT status FROM leads\s+WHERE id = \$1 AND organization_id = \$2\s+FOR UPDATE`).
		WithArgs("l-2", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectExec(`UPDATE campaigns SET lead_count = \$2`).
		WithArgs("camp-1", 101).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewAPIRepo(db)
	res, err := repo.AssignLeads(context.Background(), "org-1", "camp-1", []string{"l-1", "l-2"})
	require.NoError(t, err)
	// defaults: 2 mailboxes x 75 ideal, x 150 max
	assert.Equal(t, 1, res.Assigned, "completed lead cannot re-enter a campaign")
	assert.Equal(t, 101, res.LeadCount)
	assert.Equal(t, 150, res.Ideal)
	assert.Equal(t, 300, res.Max)
	assert.False(t, res.OverIdeal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIRepoAssignLeadsRejectsOverMaxCapacity(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	campCols := []string{
		"id", "organization_id", "name", "status", "routing_rules",
		"sent_count", "bounce_count", "reply_count", "lead_count", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM campaigns\s+WHERE id = \$1 AND organization_id = \$2\s+FOR UPDATE`).
		WithArgs("camp-1", "org-1").
		WillReturnRows(sqlmock.NewRows(campCols).
			AddRow("camp-1", "org-1", "Outreach Q3", "active", []byte(`{}`), 0, 0, 0, 295, now, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM mailboxes WHERE organization_id = \$1`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leads WHERE assigned_campaign_id = \$1`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(295))
	mock.ExpectRollback()

	repo := NewAPIRepo(db)
	_, err = repo.AssignLeads(context.Background(), "org-1", "camp-1",
		[]string{"l-1", "l-2", "l-3", "l-4", "l-5", "l-6"})
	require.ErrorIs(t, err, api.ErrCampaignFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGateRepoDomainRecoveringChecksDomainAndMailboxes(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM sending_domains WHERE id = \$1 AND status NOT IN \(\$2, \$3\)\)`).
		WithArgs("dom-1", domain.StateHealthy, domain.StateWarning).
		WillReturnRows(sqlmock.NewRows([]string{"recovering"}).AddRow(true))

	repo := NewGateRepo(db)
	recovering, err := repo.DomainRecovering(context.Background(), "dom-1")
	require.NoError(t, err)
	assert.True(t, recovering)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThrottleRepoMailboxSentTodayCountsEventLog(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM raw_events\s+WHERE entity_id = \$1\s+AND event_type = \$2`).
		WithArgs("mb-1", domain.EventEmailSent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	repo := NewThrottleRepo(db)
	n, err := repo.MailboxSentToday(context.Background(), "mb-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
