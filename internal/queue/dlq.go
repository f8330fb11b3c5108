package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrJobNotFound indicates the dead-letter partition has no such job.
var ErrJobNotFound = errors.New("dead-letter job not found")

// ListDead returns all dead-lettered jobs, oldest first.
func (q *Queue) ListDead(ctx context.Context) ([]*Job, error) {
	if q.rdb == nil {
		return nil, nil
	}
	raw, err := q.rdb.HGetAll(ctx, deadKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	jobs := make([]*Job, 0, len(raw))
	for _, data := range raw {
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.logg.Error("malformed dead-letter entry", "raw", data, "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt) })
	return jobs, nil
}

// RetryDead moves one dead job back to the ready list with a fresh
// attempt budget.
func (q *Queue) RetryDead(ctx context.Context, jobID string) error {
	if q.rdb == nil {
		return ErrJobNotFound
	}
	data, err := q.rdb.HGet(ctx, deadKey, jobID).Result()
	if err != nil {
		return ErrJobNotFound
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return fmt.Errorf("decode dead-letter job %s: %w", jobID, err)
	}

	job.Attempts = 0
	job.LastError = ""
	fresh, _ := json.Marshal(job)
	if err := q.rdb.LPush(ctx, readyKey, fresh).Err(); err != nil {
		return fmt.Errorf("requeue dead job %s: %w", jobID, err)
	}
	if err := q.rdb.HDel(ctx, deadKey, jobID).Err(); err != nil {
		return fmt.Errorf("remove dead job %s: %w", jobID, err)
	}
	q.logg.Info("dead-letter job requeued", "job_id", jobID)
	return nil
}

// RetryAllDead requeues the whole dead-letter partition. Returns the
// number of jobs moved.
func (q *Queue) RetryAllDead(ctx context.Context) (int, error) {
	jobs, err := q.ListDead(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, job := range jobs {
		if err := q.RetryDead(ctx, job.ID); err != nil {
			q.logg.Error("retry-all skip", "job_id", job.ID, "error", err)
			continue
		}
		moved++
	}
	return moved, nil
}

// DeadCount returns the dead-letter partition size.
func (q *Queue) DeadCount(ctx context.Context) (int64, error) {
	if q.rdb == nil {
		return 0, nil
	}
	return q.rdb.HLen(ctx, deadKey).Result()
}
