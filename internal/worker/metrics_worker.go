package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/metrics"
	"github.com/ignite/deliverability-engine/internal/pkg/distlock"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// Risk bands that move a mailbox without waiting for the next bounce.
const (
	riskPauseAt = 75.0
	riskWarnAt  = 50.0
)

const weeklyBonusEvery = 7 * 24 * time.Hour

// Repository is the read/write surface of the metrics sweep.
type Repository interface {
	Organizations(ctx context.Context) ([]*domain.Organization, error)

	// ActiveMailboxes lists healthy/warning/recovering mailboxes.
	ActiveMailboxes(ctx context.Context, orgID string, limit int) ([]*domain.Mailbox, error)

	// RecoveryMailboxes lists paused and recovery-phase mailboxes.
	RecoveryMailboxes(ctx context.Context, orgID string) ([]*domain.Mailbox, error)
	RecoveryDomains(ctx context.Context, orgID string) ([]*domain.SendingDomain, error)

	GetDomain(ctx context.Context, id string) (*domain.SendingDomain, error)
	Domains(ctx context.Context, orgID string) ([]*domain.SendingDomain, error)

	// StableEntities lists healthy mailboxes and domains still below
	// the resilience ceiling, for the weekly stability bonus.
	StableEntities(ctx context.Context, orgID string) ([]StableEntity, error)

	TransitionMailbox(ctx context.Context, mb *domain.Mailbox, to domain.HealthState, effects *statemachine.PauseEffects, reason, triggeredBy string) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// StableEntity is one weekly-bonus candidate.
type StableEntity struct {
	EntityType  domain.EntityType
	ID          string
	LastPauseAt *time.Time
}

// DomainChecker re-evaluates a domain's aggregate health.
type DomainChecker interface {
	CheckDomainHealth(ctx context.Context, org *domain.Organization, dom *domain.SendingDomain) error
}

// Healer drives recovery-phase movement.
type Healer interface {
	GraduateMailbox(ctx context.Context, mb *domain.Mailbox, dom *domain.SendingDomain) (bool, error)
	GraduateDomain(ctx context.Context, d *domain.SendingDomain) (bool, error)
	WeeklyStabilityBonus(ctx context.Context, et domain.EntityType, id string, lastPauseAt *time.Time) error
}

// MetricsWorker is the 60-second risk sweep.
type MetricsWorker struct {
	repo    Repository
	metrics *metrics.Service
	checker DomainChecker
	healer  Healer
	lock    distlock.DistLock
	cfg     config.WorkerConfig

	cycleActive atomic.Bool
	lastBonusAt time.Time
	status      *Status
	now         func() time.Time
	log         *logger.Logger

	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewMetricsWorker wires the sweep. lock may be nil in single-instance
// deployments.
func NewMetricsWorker(repo Repository, ms *metrics.Service, checker DomainChecker, healer Healer, lock distlock.DistLock, cfg config.WorkerConfig) *MetricsWorker {
	return &MetricsWorker{
		repo:    repo,
		metrics: ms,
		checker: checker,
		healer:  healer,
		lock:    lock,
		cfg:     cfg,
		status:  NewStatus("metrics"),
		now:     time.Now,
		log:     logger.For("worker.metrics"),
	}
}

// Status exposes the cycle bookkeeping.
func (w *MetricsWorker) Status() *Status { return w.status }

// Start launches the ticker loop.
func (w *MetricsWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	ctx, w.stop = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.MetricsInterval())
		defer ticker.Stop()
		log.Printf("[MetricsWorker] started, interval %s", w.cfg.MetricsInterval())
		for {
			select {
			case <-ctx.Done():
				log.Printf("[MetricsWorker] stopped")
				return
			case <-ticker.C:
				if err := w.RunCycle(ctx); err != nil {
					w.log.Error("cycle failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight cycle.
func (w *MetricsWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()
	w.stop()
	w.wg.Wait()
}

// RunCycle executes one sweep. Overlapping calls are skipped, as are
// cycles lost to another replica holding the shared lock.
func (w *MetricsWorker) RunCycle(ctx context.Context) error {
	if !w.cycleActive.CompareAndSwap(false, true) {
		w.status.skip()
		return nil
	}
	defer w.cycleActive.Store(false)

	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx)
		if err != nil {
			w.log.Warn("lock acquire failed, running anyway", "error", err)
		} else if !ok {
			w.status.skip()
			return nil
		} else {
			defer w.lock.Release(ctx)
		}
	}

	start := w.now()
	err := w.sweep(ctx)
	w.status.record(start, err)
	return err
}

func (w *MetricsWorker) sweep(ctx context.Context) error {
	orgs, err := w.repo.Organizations(ctx)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	bonusDue := w.now().Sub(w.lastBonusAt) >= weeklyBonusEvery
	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.sweepOrg(ctx, org, bonusDue)
	}
	if bonusDue {
		w.lastBonusAt = w.now()
	}
	return nil
}

// sweepOrg runs the three passes for one tenant. Errors are logged per
// entity so one bad row never stalls the rest of the sweep.
func (w *MetricsWorker) sweepOrg(ctx context.Context, org *domain.Organization, bonusDue bool) {
	active, err := w.repo.ActiveMailboxes(ctx, org.ID, w.cfg.MetricsBatchSize)
	if err != nil {
		w.log.Error("list active mailboxes", "org_id", org.ID, "error", err)
		return
	}
	for _, mb := range active {
		if !mb.ConnectionsHealthy() {
			continue
		}
		if err := w.recompute(ctx, org, mb); err != nil {
			w.log.Error("recompute", "mailbox_id", mb.ID, "error", err)
		}
	}

	w.graduate(ctx, org)

	doms, err := w.repo.Domains(ctx, org.ID)
	if err != nil {
		w.log.Error("list domains", "org_id", org.ID, "error", err)
	} else {
		for _, d := range doms {
			if err := w.checker.CheckDomainHealth(ctx, org, d); err != nil {
				w.log.Error("domain health", "domain_id", d.ID, "error", err)
			}
		}
	}

	if bonusDue && org.SystemMode == domain.ModeEnforce {
		w.weeklyBonus(ctx, org)
	}
}

// recompute refreshes risk and moves the mailbox when the score alone
// crosses a band. State only moves in enforce mode; suggest raises a
// notification and observe records nothing.
func (w *MetricsWorker) recompute(ctx context.Context, org *domain.Organization, mb *domain.Mailbox) error {
	snap, err := w.metrics.Recompute(ctx, mb)
	if err != nil {
		return err
	}

	var to domain.HealthState
	switch {
	case snap.RiskScore >= riskPauseAt && mb.Status != domain.StatePaused:
		to = domain.StatePaused
	case snap.RiskScore >= riskWarnAt && mb.Status == domain.StateHealthy:
		to = domain.StateWarning
	default:
		return nil
	}
	if !statemachine.CanTransition(mb.Status, to) {
		return nil
	}
	reason := fmt.Sprintf("risk score %.1f (%s)", snap.RiskScore, snap.RiskLevel)

	switch org.SystemMode {
	case domain.ModeObserve:
		return nil
	case domain.ModeSuggest:
		return w.repo.InsertNotification(ctx, &domain.Notification{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Severity:       domain.SeverityWarning,
			Kind:           "suggest_risk_" + string(to),
			Title:          "Risk threshold crossed",
			Message:        fmt.Sprintf("mailbox %s: %s, suggested state %s", mb.ID, reason, to),
			CreatedAt:      w.now().UTC(),
		})
	}

	var effects *statemachine.PauseEffects
	if to == domain.StatePaused {
		e := statemachine.Pause(w.now().UTC(), mb.ConsecutivePauses, mb.ResilienceScore)
		effects = &e
	}
	return w.repo.TransitionMailbox(ctx, mb, to, effects, reason, "metrics_worker")
}

// graduate advances expired-cooldown and phase-complete entities.
func (w *MetricsWorker) graduate(ctx context.Context, org *domain.Organization) {
	if org.SystemMode != domain.ModeEnforce {
		return
	}

	mbs, err := w.repo.RecoveryMailboxes(ctx, org.ID)
	if err != nil {
		w.log.Error("list recovery mailboxes", "org_id", org.ID, "error", err)
		return
	}
	for _, mb := range mbs {
		dom, err := w.repo.GetDomain(ctx, mb.DomainID)
		if err != nil {
			w.log.Error("load domain", "domain_id", mb.DomainID, "error", err)
			continue
		}
		if _, err := w.healer.GraduateMailbox(ctx, mb, dom); err != nil {
			w.log.Error("graduate mailbox", "mailbox_id", mb.ID, "error", err)
		}
	}

	doms, err := w.repo.RecoveryDomains(ctx, org.ID)
	if err != nil {
		w.log.Error("list recovery domains", "org_id", org.ID, "error", err)
		return
	}
	for _, d := range doms {
		if _, err := w.healer.GraduateDomain(ctx, d); err != nil {
			w.log.Error("graduate domain", "domain_id", d.ID, "error", err)
		}
	}
}

func (w *MetricsWorker) weeklyBonus(ctx context.Context, org *domain.Organization) {
	entities, err := w.repo.StableEntities(ctx, org.ID)
	if err != nil {
		w.log.Error("list stable entities", "org_id", org.ID, "error", err)
		return
	}
	for _, e := range entities {
		if err := w.healer.WeeklyStabilityBonus(ctx, e.EntityType, e.ID, e.LastPauseAt); err != nil {
			w.log.Error("stability bonus", "entity_id", e.ID, "error", err)
		}
	}
}

var _ Healer = (*healing.Service)(nil)
