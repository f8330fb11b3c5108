package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

const (
	readyKey  = "queue:ready"
	retryKey  = "queue:retry"
	deadKey   = "queue:dead"
	jobKeyTTL = 24 * time.Hour
)

// backoffSchedule maps attempt number (1-based) to the delay before
// the next try.
var backoffSchedule = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}

// Job is the queue's unit of work. The payload stays in the event
// store; the job only carries the pointer.
type Job struct {
	ID             string    `json:"id"` // "event:{eventID}"
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Notifier receives the user-visible notification after a job exhausts
// its retries.
type Notifier interface {
	NotifyEventFailed(ctx context.Context, orgID, eventID, errMsg string)
}

// Queue dispatches stored events to a handler with retries and a DLQ.
type Queue struct {
	rdb     *redis.Client
	store   *events.Service
	handler events.Handler
	notify  Notifier
	cfg     config.QueueConfig
	limiter *rateLimiter
	logg    *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue. rdb may be nil; the queue then runs inline.
func New(rdb *redis.Client, store *events.Service, handler events.Handler, notify Notifier, cfg config.QueueConfig) *Queue {
	return &Queue{
		rdb:     rdb,
		store:   store,
		handler: handler,
		notify:  notify,
		cfg:     cfg,
		limiter: newRateLimiter(rdb, cfg.RatePerSecond),
		logg:    logger.For("queue"),
	}
}

// Enqueue schedules processing for a stored event. Enqueuing the same
// event twice is a no-op thanks to the per-job idempotency key. With
// no Redis backend the handler runs inline before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, e *domain.RawEvent) error {
	job := Job{
		ID:             "event:" + e.ID,
		EventID:        e.ID,
		OrganizationID: e.OrganizationID,
		EnqueuedAt:     time.Now().UTC(),
	}

	if q.rdb == nil {
		return q.processInline(ctx, e)
	}

	ok, err := q.rdb.SetNX(ctx, "queue:key:"+job.ID, 1, jobKeyTTL).Result()
	if err != nil {
		// Redis degraded: fall back to inline so the event still lands.
		q.logg.Warn("redis unavailable, processing inline", "event_id", e.ID, "error", err)
		return q.processInline(ctx, e)
	}
	if !ok {
		return nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, readyKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// processInline is the sync fallback. A failure still marks the source
// event and notifies, matching the terminal-failure path.
func (q *Queue) processInline(ctx context.Context, e *domain.RawEvent) error {
	if err := q.handler(ctx, e); err != nil {
		if mErr := q.store.MarkFailed(ctx, e.ID, err); mErr != nil {
			q.logg.Error("mark failed after inline error", "event_id", e.ID, "error", mErr)
		}
		if q.notify != nil {
			q.notify.NotifyEventFailed(ctx, e.OrganizationID, e.ID, err.Error())
		}
		return fmt.Errorf("inline handler: %w", err)
	}
	return q.store.MarkProcessed(ctx, e.ID)
}

// Start launches the worker pool and the retry mover. No-op without
// Redis (inline mode has nothing to drain).
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running || q.rdb == nil {
		return
	}
	q.running = true

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	log.Printf("[Queue] starting: concurrency=%d maxAttempts=%d rate=%d/s",
		q.cfg.Concurrency, q.cfg.MaxAttempts, q.cfg.RatePerSecond)

	q.wg.Add(1)
	go q.moveRetriesLoop(ctx)

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workLoop(ctx)
	}
}

// Stop halts the workers and waits for in-flight jobs.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	log.Printf("[Queue] stopped")
}

func (q *Queue) workLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := q.rdb.RPop(ctx, readyKey).Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			q.logg.Error("pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.logg.Error("malformed job dropped", "raw", data, "error", err)
			continue
		}

		q.limiter.Wait(ctx)
		q.process(ctx, &job)
	}
}

func (q *Queue) process(ctx context.Context, job *Job) {
	e, err := q.store.Get(ctx, job.EventID)
	if err != nil {
		q.logg.Error("job references missing event", "job_id", job.ID, "error", err)
		return
	}

	job.Attempts++
	if err := q.handler(ctx, e); err != nil {
		q.retryOrBury(ctx, job, err)
		return
	}
	if err := q.store.MarkProcessed(ctx, job.EventID); err != nil {
		q.logg.Error("mark processed failed", "event_id", job.EventID, "error", err)
	}
}

func (q *Queue) retryOrBury(ctx context.Context, job *Job, handlerErr error) {
	job.LastError = handlerErr.Error()

	if err := q.store.MarkFailed(ctx, job.EventID, handlerErr); err != nil {
		q.logg.Error("mark failed errored", "event_id", job.EventID, "error", err)
	}

	if job.Attempts >= q.cfg.MaxAttempts {
		q.bury(ctx, job)
		return
	}

	delay := backoffSchedule[len(backoffSchedule)-1]
	if job.Attempts-1 < len(backoffSchedule) {
		delay = backoffSchedule[job.Attempts-1]
	}
	data, _ := json.Marshal(job)
	score := float64(time.Now().Add(delay).Unix())
	if err := q.rdb.ZAdd(ctx, retryKey, redis.Z{Score: score, Member: data}).Err(); err != nil {
		q.logg.Error("schedule retry failed, burying", "job_id", job.ID, "error", err)
		q.bury(ctx, job)
		return
	}
	q.logg.Warn("job retry scheduled",
		"job_id", job.ID, "attempt", job.Attempts, "delay", delay.String(), "error", handlerErr)
}

func (q *Queue) bury(ctx context.Context, job *Job) {
	data, _ := json.Marshal(job)
	if err := q.rdb.HSet(ctx, deadKey, job.ID, data).Err(); err != nil {
		q.logg.Error("dead-letter write failed", "job_id", job.ID, "error", err)
	}
	if q.notify != nil {
		q.notify.NotifyEventFailed(ctx, job.OrganizationID, job.EventID, job.LastError)
	}
	q.logg.Error("job dead-lettered",
		"job_id", job.ID, "attempts", job.Attempts, "error", job.LastError)
}

// moveRetriesLoop promotes due retry jobs back onto the ready list.
func (q *Queue) moveRetriesLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.moveDueRetries(ctx)
		}
	}
}

func (q *Queue) moveDueRetries(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	due, err := q.rdb.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, retryKey, member).Result()
		if err != nil || removed == 0 {
			// another replica claimed it
			continue
		}
		if err := q.rdb.LPush(ctx, readyKey, member).Err(); err != nil {
			q.logg.Error("requeue retry failed", "error", err)
		}
	}
}

// Depth returns the ready-list length for the stats surface.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	if q.rdb == nil {
		return 0, nil
	}
	return q.rdb.LLen(ctx, readyKey).Result()
}
