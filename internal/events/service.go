package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// MaxRetries is how many handler failures an event survives before it
// stops appearing in Unprocessed batches.
const MaxRetries = 3

// ReplayMode selects replay side effects.
type ReplayMode string

const (
	ReplayDryRun ReplayMode = "dry_run"
	ReplayLive   ReplayMode = "live"
)

// Handler processes one stored event. The work queue and live replay
// both dispatch through this.
type Handler func(ctx context.Context, e *domain.RawEvent) error

// ReplayRequest identifies the entity slice of the log to replay.
type ReplayRequest struct {
	OrganizationID string
	EntityType     domain.EntityType
	EntityID       string
	From           *time.Time
	Mode           ReplayMode
}

// ReplayAction is one projected or executed step of a replay.
type ReplayAction struct {
	EventID   string           `json:"event_id"`
	EventType domain.EventType `json:"event_type"`
	Action    string           `json:"action"`
	Error     string           `json:"error,omitempty"`
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Mode     ReplayMode     `json:"mode"`
	Total    int            `json:"total"`
	Failed   int            `json:"failed"`
	Actions  []ReplayAction `json:"actions"`
	Duration time.Duration  `json:"-"`
}

// Service is the event store.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService creates the event store service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: logger.For("events")}
}

// Store appends an event and reports whether it was new. A duplicate
// idempotency key returns the existing event's id with isNew=false and
// no side effect.
func (s *Service) Store(ctx context.Context, e *domain.RawEvent) (string, bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.repo.Insert(ctx, e)
	if err == nil {
		return e.ID, true, nil
	}
	if !errors.Is(err, ErrDuplicateKey) {
		return "", false, fmt.Errorf("store event: %w", err)
	}

	// Lost the race (or a redelivery): surface the winner's id.
	existing, err := s.repo.GetByIdempotencyKey(ctx, e.OrganizationID, *e.IdempotencyKey)
	if err != nil {
		return "", false, fmt.Errorf("resolve duplicate event: %w", err)
	}
	return existing.ID, false, nil
}

// Get returns one stored event by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.RawEvent, error) {
	return s.repo.GetByID(ctx, id)
}

// MarkProcessed stamps an event processed.
func (s *Service) MarkProcessed(ctx context.Context, id string) error {
	return s.repo.MarkProcessed(ctx, id)
}

// MarkFailed records a handler failure against the event.
func (s *Service) MarkFailed(ctx context.Context, id string, handlerErr error) error {
	msg := ""
	if handlerErr != nil {
		msg = handlerErr.Error()
	}
	return s.repo.MarkFailed(ctx, id, msg)
}

// Unprocessed returns the next batch of events still owed a handler
// run, oldest first.
func (s *Service) Unprocessed(ctx context.Context, orgID string, limit int) ([]*domain.RawEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.Unprocessed(ctx, orgID, limit)
}

// Replay walks the processed log of one entity. In dry-run mode it
// returns the action each event would trigger; in live mode it invokes
// handler per event and records failures without stopping.
func (s *Service) Replay(ctx context.Context, req ReplayRequest, handler Handler) (*ReplayResult, error) {
	switch req.Mode {
	case ReplayDryRun, ReplayLive:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidReplayMode, req.Mode)
	}
	if req.Mode == ReplayLive && handler == nil {
		return nil, errors.New("live replay requires a handler")
	}

	evts, err := s.repo.ForReplay(ctx, req.OrganizationID, req.EntityType, req.EntityID, req.From)
	if err != nil {
		return nil, fmt.Errorf("load replay events: %w", err)
	}

	start := time.Now()
	result := &ReplayResult{Mode: req.Mode, Total: len(evts)}
	for _, e := range evts {
		action := ReplayAction{
			EventID:   e.ID,
			EventType: e.EventType,
			Action:    projectedAction(e.EventType),
		}
		if req.Mode == ReplayLive {
			if err := handler(ctx, e); err != nil {
				action.Error = err.Error()
				result.Failed++
				s.log.Warn("replay handler failed",
					"event_id", e.ID, "event_type", string(e.EventType), "error", err)
			}
		}
		result.Actions = append(result.Actions, action)
	}
	result.Duration = time.Since(start)

	s.log.Info("replay complete",
		"mode", string(req.Mode),
		"entity_id", req.EntityID,
		"total", result.Total,
		"failed", result.Failed)
	return result, nil
}

// projectedAction names what the queue handler would do for an event
// type. Mirrors the dispatch table in internal/queue.
func projectedAction(t domain.EventType) string {
	switch t {
	case domain.EventEmailSent:
		return "monitor.record_sent"
	case domain.EventBounce, domain.EventHardBounce:
		return "monitor.record_bounce"
	case domain.EventSpamComplaint:
		return "audit.spam_complaint"
	default:
		return "skip"
	}
}
