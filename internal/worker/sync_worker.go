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
	"github.com/ignite/deliverability-engine/internal/pkg/distlock"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/platform"
)

// Lock keys and TTLs for the sync driver.
const (
	SyncClusterLockKey = "worker:lock:platform_sync"
	SyncClusterLockTTL = 20 * time.Minute
	syncOrgLockTTL     = 10 * time.Minute
	syncAlertFailures  = 3
)

// SyncOrgLockKey names the per-org-per-platform failure isolation lock.
func SyncOrgLockKey(orgID, platformName string) string {
	return fmt.Sprintf("worker:lock:sync:%s:%s", orgID, platformName)
}

// LockFactory builds a shared lock for a key. cmd wires this to
// distlock.NewLock so the worker never sees Redis or the DB directly.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// SyncStore persists one platform's view of an org.
type SyncStore interface {
	Organizations(ctx context.Context) ([]*domain.Organization, error)
	UpsertRemoteCampaign(ctx context.Context, orgID string, c platform.RemoteCampaign) error
	UpsertRemoteMailbox(ctx context.Context, orgID string, m platform.RemoteMailbox) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// SyncWorker drives adapter.Sync for every org/platform pair.
type SyncWorker struct {
	store    SyncStore
	registry *platform.Registry
	locks    LockFactory
	cfg      config.WorkerConfig

	cycleActive atomic.Bool
	status      *Status
	now         func() time.Time
	sleep       func(context.Context, time.Duration)
	log         *logger.Logger

	// consecutive failures per org:platform
	failMu   sync.Mutex
	failures map[string]int

	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSyncWorker wires the driver. locks may be nil in single-instance
// deployments.
func NewSyncWorker(store SyncStore, registry *platform.Registry, locks LockFactory, cfg config.WorkerConfig) *SyncWorker {
	return &SyncWorker{
		store:    store,
		registry: registry,
		locks:    locks,
		cfg:      cfg,
		status:   NewStatus("platform_sync"),
		now:      time.Now,
		sleep:    sleepCtx,
		log:      logger.For("worker.sync"),
		failures: make(map[string]int),
	}
}

// Status exposes the cycle bookkeeping.
func (w *SyncWorker) Status() *Status { return w.status }

// Start launches the ticker loop.
func (w *SyncWorker) Start(ctx context.Context) {
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
		ticker := time.NewTicker(w.cfg.SyncInterval())
		defer ticker.Stop()
		log.Printf("[SyncWorker] started, interval %s", w.cfg.SyncInterval())
		for {
			select {
			case <-ctx.Done():
				log.Printf("[SyncWorker] stopped")
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
func (w *SyncWorker) Stop() {
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

// RunCycle executes one driver pass behind the cluster lock.
func (w *SyncWorker) RunCycle(ctx context.Context) error {
	if !w.cycleActive.CompareAndSwap(false, true) {
		w.status.skip()
		return nil
	}
	defer w.cycleActive.Store(false)

	if w.locks != nil {
		lock := w.locks(SyncClusterLockKey, SyncClusterLockTTL)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			w.log.Warn("cluster lock acquire failed, running anyway", "error", err)
		} else if !ok {
			w.status.skip()
			return nil
		} else {
			defer lock.Release(ctx)
		}
	}

	start := w.now()
	err := w.drive(ctx)
	w.status.record(start, err)
	return err
}

func (w *SyncWorker) drive(ctx context.Context) error {
	if len(w.registry.All()) == 0 {
		return nil
	}
	orgs, err := w.store.Organizations(ctx)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	delay := time.Duration(w.cfg.SyncDelaySeconds) * time.Second
	first := true
	for _, org := range orgs {
		if org.SubscriptionBlocked {
			continue
		}
		for _, adapter := range w.registry.All() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !first {
				w.sleep(ctx, delay)
			}
			first = false
			w.syncOne(ctx, org, adapter)
		}
	}
	return nil
}

// syncOne runs a single org/platform sync behind its isolation lock.
func (w *SyncWorker) syncOne(ctx context.Context, org *domain.Organization, adapter platform.Adapter) {
	if w.locks != nil {
		lock := w.locks(SyncOrgLockKey(org.ID, adapter.Name()), syncOrgLockTTL)
		ok, err := lock.Acquire(ctx)
		if err == nil && !ok {
			w.log.Info("sync locked elsewhere, skipping",
				"org_id", org.ID, "platform", adapter.Name())
			return
		}
		if err == nil {
			defer lock.Release(ctx)
		}
	}

	res, err := adapter.Sync(ctx, org.ID)
	if err != nil {
		w.recordFailure(ctx, org, adapter.Name(), err)
		return
	}
	w.clearFailures(org.ID, adapter.Name())

	for _, c := range res.Campaigns {
		if err := w.store.UpsertRemoteCampaign(ctx, org.ID, c); err != nil {
			w.log.Error("upsert campaign", "campaign_id", c.ID, "error", err)
		}
	}
	for _, m := range res.Mailboxes {
		if err := w.store.UpsertRemoteMailbox(ctx, org.ID, m); err != nil {
			w.log.Error("upsert mailbox", "mailbox_id", m.ID, "error", err)
		}
	}
	w.log.Info("sync complete",
		"org_id", org.ID, "platform", adapter.Name(),
		"campaigns", len(res.Campaigns), "mailboxes", len(res.Mailboxes))
}

func (w *SyncWorker) recordFailure(ctx context.Context, org *domain.Organization, platformName string, err error) {
	key := org.ID + ":" + platformName
	w.failMu.Lock()
	w.failures[key]++
	n := w.failures[key]
	w.failMu.Unlock()

	w.log.Error("sync failed",
		"org_id", org.ID, "platform", platformName, "consecutive", n, "error", err)

	if n != syncAlertFailures {
		return
	}
	nErr := w.store.InsertNotification(ctx, &domain.Notification{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Severity:       domain.SeverityCritical,
		Kind:           "platform_sync_failing",
		Title:          "Platform sync failing",
		Message:        fmt.Sprintf("%s sync failed %d times in a row: %v", platformName, n, err),
		CreatedAt:      w.now().UTC(),
	})
	if nErr != nil {
		w.log.Error("sync alert failed", "org_id", org.ID, "error", nErr)
	}
}

func (w *SyncWorker) clearFailures(orgID, platformName string) {
	w.failMu.Lock()
	delete(w.failures, orgID+":"+platformName)
	w.failMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
