package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/metrics"
)

// MetricsRepo is the Postgres window store behind metrics.Service.
type MetricsRepo struct {
	db *sql.DB
}

// NewMetricsRepo creates the metrics repository.
func NewMetricsRepo(db *sql.DB) *MetricsRepo {
	return &MetricsRepo{db: db}
}

var _ metrics.Repository = (*MetricsRepo)(nil)

const metricsColumns = `
	mailbox_id, organization_id,
	sent_1h, bounce_1h, failure_1h, window_1h_start,
	sent_24h, bounce_24h, failure_24h, window_24h_start,
	sent_7d, bounce_7d, failure_7d, window_7d_start,
	risk_score, velocity, prev_bounce_rate, prev_failure_rate, updated_at`

func scanMetrics(s rowScanner) (*domain.MailboxMetrics, error) {
	m := &domain.MailboxMetrics{}
	err := s.Scan(
		&m.MailboxID, &m.OrganizationID,
		&m.Sent1h, &m.Bounce1h, &m.Failure1h, &m.Window1h,
		&m.Sent24h, &m.Bounce24h, &m.Failure24h, &m.Window24h,
		&m.Sent7d, &m.Bounce7d, &m.Failure7d, &m.Window7d,
		&m.RiskScore, &m.Velocity, &m.PrevBounceRate, &m.PrevFailureRate, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MetricsRepo) Get(ctx context.Context, mailboxID string) (*domain.MailboxMetrics, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+metricsColumns+` FROM mailbox_metrics WHERE mailbox_id = $1
	`, mailboxID)
	m, err := scanMetrics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metrics.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics for %s: %w", mailboxID, err)
	}
	return m, nil
}

func (r *MetricsRepo) Create(ctx context.Context, m *domain.MailboxMetrics) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailbox_metrics
			(mailbox_id, organization_id,
			 sent_1h, bounce_1h, failure_1h, window_1h_start,
			 sent_24h, bounce_24h, failure_24h, window_24h_start,
			 sent_7d, bounce_7d, failure_7d, window_7d_start,
			 risk_score, velocity, prev_bounce_rate, prev_failure_rate, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3, 0, 0, 0, $4, 0, 0, 0, $5, 0, 0, 0, 0, $6)
		ON CONFLICT (mailbox_id) DO NOTHING
	`, m.MailboxID, m.OrganizationID, m.Window1h, m.Window24h, m.Window7d, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create metrics for %s: %w", m.MailboxID, err)
	}
	return nil
}

// windowColumns maps a window to its trusted column names. The switch
// keeps window identifiers out of string interpolation.
func windowColumns(w metrics.Window) (sent, bounce, failure, start string, err error) {
	switch w {
	case metrics.Window1h:
		return "sent_1h", "bounce_1h", "failure_1h", "window_1h_start", nil
	case metrics.Window24h:
		return "sent_24h", "bounce_24h", "failure_24h", "window_24h_start", nil
	case metrics.Window7d:
		return "sent_7d", "bounce_7d", "failure_7d", "window_7d_start", nil
	}
	return "", "", "", "", fmt.Errorf("unknown window %q", w)
}

func (r *MetricsRepo) ResetWindow(ctx context.Context, mailboxID string, w metrics.Window, start time.Time) error {
	sent, bounce, failure, startCol, err := windowColumns(w)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE mailbox_metrics
		SET %s = 0, %s = 0, %s = 0, %s = $2, updated_at = $2
		WHERE mailbox_id = $1
	`, sent, bounce, failure, startCol), mailboxID, start)
	if err != nil {
		return fmt.Errorf("reset %s window for %s: %w", w, mailboxID, err)
	}
	return nil
}

func (r *MetricsRepo) IncrementSent(ctx context.Context, mailboxID string) error {
	return r.increment(ctx, mailboxID, "sent")
}

func (r *MetricsRepo) IncrementBounce(ctx context.Context, mailboxID string) error {
	return r.increment(ctx, mailboxID, "bounce")
}

func (r *MetricsRepo) IncrementFailure(ctx context.Context, mailboxID string) error {
	return r.increment(ctx, mailboxID, "failure")
}

func (r *MetricsRepo) increment(ctx context.Context, mailboxID, kind string) error {
	switch kind {
	case "sent", "bounce", "failure":
	default:
		return fmt.Errorf("unknown counter kind %q", kind)
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE mailbox_metrics
		SET %[1]s_1h = %[1]s_1h + 1,
		    %[1]s_24h = %[1]s_24h + 1,
		    %[1]s_7d = %[1]s_7d + 1,
		    updated_at = now()
		WHERE mailbox_id = $1
	`, kind), mailboxID)
	if err != nil {
		return fmt.Errorf("increment %s for %s: %w", kind, mailboxID, err)
	}
	return nil
}

func (r *MetricsRepo) UpdateRisk(ctx context.Context, mailboxID string, riskScore, velocity, bounceRate, failureRate float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailbox_metrics
		SET risk_score = $2, velocity = $3,
		    prev_bounce_rate = $4, prev_failure_rate = $5,
		    updated_at = now()
		WHERE mailbox_id = $1
	`, mailboxID, riskScore, velocity, bounceRate, failureRate)
	if err != nil {
		return fmt.Errorf("update risk for %s: %w", mailboxID, err)
	}
	return nil
}
