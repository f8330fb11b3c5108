package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/events"
	"github.com/ignite/deliverability-engine/internal/pkg/httputil"
)

// rpcRequest is the admin RPC envelope.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// HandleAdminRPC dispatches the small admin method set. Methods are
// namespaced the way the ops tooling calls them: dlq.*, replay.*,
// assessment.*, leads.*.
func (h *Handlers) HandleAdminRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	switch req.Method {
	case "dlq.list":
		h.rpcDLQList(w, r)
	case "dlq.retry":
		h.rpcDLQRetry(w, r, req.Params)
	case "dlq.retryAll":
		h.rpcDLQRetryAll(w, r)
	case "replay.dryRun":
		h.rpcReplay(w, r, req.Params, events.ReplayDryRun)
	case "replay.live":
		h.rpcReplay(w, r, req.Params, events.ReplayLive)
	case "assessment.run":
		h.rpcAssessmentRun(w, r, req.Params)
	case "leads.assign":
		h.rpcAssignLeads(w, r, req.Params)
	default:
		httputil.ErrorCode(w, http.StatusBadRequest, "unknown_method", "unknown method "+req.Method)
	}
}

func (h *Handlers) rpcDLQList(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.ListDead(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"jobs": jobs})
}

func (h *Handlers) rpcDLQRetry(w http.ResponseWriter, r *http.Request, params json.RawMessage) {
	var p struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.JobID == "" {
		httputil.BadRequest(w, "job_id required")
		return
	}
	if err := h.queue.RetryDead(r.Context(), p.JobID); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.OK(w, map[string]bool{"retried": true})
}

func (h *Handlers) rpcDLQRetryAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.RetryAllDead(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"retried": n})
}

func (h *Handlers) rpcReplay(w http.ResponseWriter, r *http.Request, params json.RawMessage, mode events.ReplayMode) {
	var p struct {
		OrganizationID string     `json:"organization_id"`
		EntityType     string     `json:"entity_type"`
		EntityID       string     `json:"entity_id"`
		From           *time.Time `json:"from"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.OrganizationID == "" {
		httputil.BadRequest(w, "organization_id required")
		return
	}

	var handler events.Handler
	if mode == events.ReplayLive {
		handler = h.dispatch
	}
	res, err := h.store.Replay(r.Context(), events.ReplayRequest{
		OrganizationID: p.OrganizationID,
		EntityType:     domain.EntityType(p.EntityType),
		EntityID:       p.EntityID,
		From:           p.From,
		Mode:           mode,
	}, handler)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, res)
}

// rpcAssessmentRun verifies every mailbox's connection probes and
// unlocks the execution gate when they all pass.
func (h *Handlers) rpcAssessmentRun(w http.ResponseWriter, r *http.Request, params json.RawMessage) {
	var p struct {
		OrganizationID string `json:"organization_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.OrganizationID == "" {
		httputil.BadRequest(w, "organization_id required")
		return
	}
	ctx := r.Context()

	mbs, err := h.repo.MailboxesByOrg(ctx, p.OrganizationID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	var unhealthy []string
	for _, mb := range mbs {
		if !mb.ConnectionsHealthy() {
			unhealthy = append(unhealthy, mb.Email)
		}
	}
	if len(mbs) == 0 || len(unhealthy) > 0 {
		httputil.OK(w, map[string]any{
			"completed": false,
			"mailboxes": len(mbs),
			"unhealthy": unhealthy,
		})
		return
	}

	if err := h.repo.CompleteAssessment(ctx, p.OrganizationID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	audit := &domain.AuditLog{
		ID:             uuid.NewString(),
		OrganizationID: p.OrganizationID,
		EntityType:     domain.EntityOrg,
		EntityID:       p.OrganizationID,
		Action:         "assessment_completed",
		Detail:         fmt.Sprintf("%d mailboxes verified", len(mbs)),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.repo.InsertAudit(ctx, audit); err != nil {
		h.log.Error("assessment audit failed", "org_id", p.OrganizationID, "error", err)
	}
	httputil.OK(w, map[string]any{"completed": true, "mailboxes": len(mbs)})
}

// rpcAssignLeads attaches a batch of leads to a campaign. The
// repository owns the capacity check; batches serialize on the
// campaign row lock.
func (h *Handlers) rpcAssignLeads(w http.ResponseWriter, r *http.Request, params json.RawMessage) {
	var p struct {
		OrganizationID string   `json:"organization_id"`
		CampaignID     string   `json:"campaign_id"`
		LeadIDs        []string `json:"lead_ids"`
	}
	if err := json.Unmarshal(params, &p); err != nil ||
		p.OrganizationID == "" || p.CampaignID == "" || len(p.LeadIDs) == 0 {
		httputil.BadRequest(w, "organization_id, campaign_id and lead_ids required")
		return
	}

	res, err := h.repo.AssignLeads(r.Context(), p.OrganizationID, p.CampaignID, p.LeadIDs)
	if errors.Is(err, ErrCampaignFull) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleCanExecute is the synchronous gate endpoint dispatch calls
// before sending a lead.
func (h *Handlers) HandleCanExecute(w http.ResponseWriter, r *http.Request) {
	var p struct {
		OrganizationID string `json:"organization_id"`
		CampaignID     string `json:"campaign_id"`
		LeadID         string `json:"lead_id"`
	}
	if !httputil.Decode(w, r, &p) {
		return
	}
	if p.OrganizationID == "" || p.CampaignID == "" || p.LeadID == "" {
		httputil.BadRequest(w, "organization_id, campaign_id and lead_id required")
		return
	}

	res, err := h.gate.CanExecuteLead(r.Context(), p.OrganizationID, p.CampaignID, p.LeadID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, res)
}
