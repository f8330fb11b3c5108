package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
	"github.com/ignite/deliverability-engine/internal/gate"
	"github.com/ignite/deliverability-engine/internal/pkg/httputil"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/queue"
	"github.com/ignite/deliverability-engine/internal/worker"
)

// ErrCampaignFull rejects an assignment batch that would push a
// campaign past its max capacity.
var ErrCampaignFull = errors.New("campaign at max capacity")

// AssignmentResult reports one lead assignment batch.
type AssignmentResult struct {
	Assigned  int  `json:"assigned"`
	LeadCount int  `json:"lead_count"`
	Ideal     int  `json:"ideal_capacity"`
	Max       int  `json:"max_capacity"`
	OverIdeal bool `json:"over_ideal"`
}

// Repository is the direct persistence surface the handlers need
// beyond what the services own.
type Repository interface {
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	MailboxesByOrg(ctx context.Context, orgID string) ([]*domain.Mailbox, error)

	// CompleteAssessment flips assessment_completed for the org.
	CompleteAssessment(ctx context.Context, orgID string) error

	// SetSubscriptionBlocked records the billing state for the org.
	SetSubscriptionBlocked(ctx context.Context, orgID string, blocked bool) error

	// AssignLeads attaches leads to a campaign under SERIALIZABLE
	// isolation, holding the campaign row lock across the capacity
	// check and the writes. Returns ErrCampaignFull when the batch
	// would exceed mailboxes x max_leads_per_mailbox.
	AssignLeads(ctx context.Context, orgID, campaignID string, leadIDs []string) (*AssignmentResult, error)

	InsertAudit(ctx context.Context, a *domain.AuditLog) error
}

// Gater decides lead dispatch. Satisfied by *gate.Service.
type Gater interface {
	CanExecuteLead(ctx context.Context, orgID, campaignID, leadID string) (*gate.Result, error)
}

// Handlers carries the wired services for all HTTP endpoints.
type Handlers struct {
	repo     Repository
	store    *events.Service
	queue    *queue.Queue
	gate     Gater
	dispatch events.Handler
	sse      *SSEHub
	statuses []*worker.Status
	log      *logger.Logger

	// webhook receiver stats
	eventsReceived int64
	eventsDropped  int64
}

// NewHandlers wires the handler set. statuses may be empty on nodes
// that run no workers.
func NewHandlers(repo Repository, store *events.Service, q *queue.Queue, g Gater, dispatch events.Handler, sse *SSEHub, statuses ...*worker.Status) *Handlers {
	if sse == nil {
		sse = NewSSEHub()
	}
	return &Handlers{
		repo:     repo,
		store:    store,
		queue:    q,
		gate:     g,
		dispatch: dispatch,
		sse:      sse,
		statuses: statuses,
		log:      logger.For("api"),
	}
}

// SSE returns the hub so other components can publish progress.
func (h *Handlers) SSE() *SSEHub { return h.sse }

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// Stats reports the ops counters: queue depth, DLQ size, webhook
// counters and worker cycle bookkeeping.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	depth, err := h.queue.Depth(ctx)
	if err != nil {
		h.log.Warn("queue depth unavailable", "error", err)
	}
	dead, err := h.queue.DeadCount(ctx)
	if err != nil {
		h.log.Warn("dlq size unavailable", "error", err)
	}

	workers := make([]worker.StatusSnapshot, 0, len(h.statuses))
	for _, s := range h.statuses {
		workers = append(workers, s.Snapshot())
	}

	httputil.OK(w, map[string]any{
		"queue": map[string]int64{
			"depth": depth,
			"dead":  dead,
		},
		"webhooks": map[string]int64{
			"received": atomic.LoadInt64(&h.eventsReceived),
			"dropped":  atomic.LoadInt64(&h.eventsDropped),
		},
		"workers": workers,
	})
}
