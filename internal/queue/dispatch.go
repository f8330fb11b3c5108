package queue

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// EventSink is the monitor-facing surface the dispatcher drives.
type EventSink interface {
	RecordSent(ctx context.Context, e *domain.RawEvent) error
	RecordBounce(ctx context.Context, e *domain.RawEvent) error
	RecordSpamComplaint(ctx context.Context, e *domain.RawEvent) error
}

// NewDispatcher builds the handler the queue runs per job: route by
// event type to the monitor, audit-only for spam complaints, log and
// skip everything else.
func NewDispatcher(sink EventSink) events.Handler {
	log := logger.For("dispatch")
	return func(ctx context.Context, e *domain.RawEvent) error {
		switch e.EventType {
		case domain.EventEmailSent:
			return sink.RecordSent(ctx, e)
		case domain.EventBounce, domain.EventHardBounce:
			return sink.RecordBounce(ctx, e)
		case domain.EventSpamComplaint:
			return sink.RecordSpamComplaint(ctx, e)
		default:
			log.Debug("unhandled event type skipped",
				"event_id", e.ID, "event_type", string(e.EventType))
			return nil
		}
	}
}
