package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/httputil"
	"github.com/ignite/deliverability-engine/internal/platform"
)

// SignatureHeader carries the billing webhook HMAC.
const SignatureHeader = "X-Signature"

// maxWebhookBody bounds a single webhook request.
const maxWebhookBody = 8 << 20

// webhookEvent is the generic inbound event shape. Platforms disagree
// on envelope, not on fields.
type webhookEvent struct {
	ID             json.Number `json:"id"`
	EventType      string      `json:"event_type"`
	EmailAccountID json.Number `json:"email_account_id"`
	CampaignID     json.Number `json:"campaign_id"`
	RecipientEmail string      `json:"recipient_email"`
	SMTPResponse   string      `json:"smtp_response"`
	BounceReason   string      `json:"bounce_reason"`
}

// HandleEvents ingests a sending platform's webhook batch. The tenant
// comes from X-Organization-ID; the body is trusted (these platforms
// do not sign). The response is always 200.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	orgID := r.Header.Get("X-Organization-ID")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || orgID == "" {
		if orgID == "" {
			h.log.Warn("webhook without organization header, dropping")
		}
		atomic.AddInt64(&h.eventsDropped, 1)
		httputil.OK(w, map[string]any{"success": false, "processed": 0})
		return
	}

	evts := parseEnvelope(body)
	processed := 0
	for _, we := range evts {
		if h.ingestOne(r.Context(), orgID, we) {
			processed++
		} else {
			atomic.AddInt64(&h.eventsDropped, 1)
		}
	}
	atomic.AddInt64(&h.eventsReceived, int64(processed))
	httputil.OK(w, map[string]any{"success": true, "processed": processed})
}

// parseEnvelope accepts {events:[...]}, a bare array, or one object.
func parseEnvelope(body []byte) []webhookEvent {
	var wrapped struct {
		Events []webhookEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Events) > 0 {
		return wrapped.Events
	}

	var list []webhookEvent
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}

	var one webhookEvent
	if err := json.Unmarshal(body, &one); err == nil {
		return []webhookEvent{one}
	}
	return nil
}

// ingestOne stores and enqueues a single event. Returns false on drop.
func (h *Handlers) ingestOne(ctx context.Context, orgID string, we webhookEvent) bool {
	et, ok := normalizeEventType(we.EventType)
	if !ok {
		h.log.Warn("unknown event type, dropping", "event_type", we.EventType)
		return false
	}
	if we.EmailAccountID.String() == "" {
		h.log.Warn("event without email_account_id, dropping")
		return false
	}

	e := &domain.RawEvent{
		OrganizationID: orgID,
		EventType:      et,
		EntityType:     domain.EntityMailbox,
		EntityID:       platform.PrefixID(we.EmailAccountID.String()),
		Payload: map[string]any{
			"recipient_email": we.RecipientEmail,
			"smtp_response":   we.SMTPResponse,
			"bounce_reason":   we.BounceReason,
		},
	}
	if we.CampaignID.String() != "" {
		cid := platform.PrefixID(we.CampaignID.String())
		e.CampaignID = &cid
	}
	if we.ID.String() != "" {
		key := platform.PrefixID(we.ID.String())
		e.IdempotencyKey = &key
	}

	if _, isNew, err := h.store.Store(ctx, e); err != nil {
		h.log.Error("store event failed", "error", err)
		return false
	} else if !isNew {
		// duplicate delivery: acknowledged, not re-enqueued
		return true
	}
	if err := h.queue.Enqueue(ctx, e); err != nil {
		h.log.Error("enqueue failed", "event_id", e.ID, "error", err)
	}
	return true
}

// normalizeEventType maps the platform's event names onto ours.
func normalizeEventType(s string) (domain.EventType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SENT", "EMAIL_SENT", "DELIVERY", "DELIVERED":
		return domain.EventEmailSent, true
	case "BOUNCE", "BOUNCED", "SOFT_BOUNCE":
		return domain.EventBounce, true
	case "HARD_BOUNCE":
		return domain.EventHardBounce, true
	case "REPLY", "REPLIED":
		return domain.EventReply, true
	case "SPAM_COMPLAINT", "COMPLAINT", "SPAM":
		return domain.EventSpamComplaint, true
	case "OPEN", "OPENED":
		return domain.EventOpen, true
	default:
		return "", false
	}
}

// HandleBilling ingests billing webhooks. Unlike platform events these
// are signed: when the org has a webhook secret the body must carry a
// valid HMAC-SHA256 or the request is rejected with 401.
func (h *Handlers) HandleBilling(w http.ResponseWriter, r *http.Request) {
	orgID := r.Header.Get("X-Organization-ID")
	if orgID == "" {
		httputil.BadRequest(w, "missing X-Organization-ID")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	org, err := h.repo.GetOrganization(r.Context(), orgID)
	if err != nil {
		httputil.NotFound(w, "unknown organization")
		return
	}
	if org.WebhookSecret != "" {
		if !verifySignature(body, org.WebhookSecret, r.Header.Get(SignatureHeader)) {
			httputil.Unauthorized(w, "invalid signature")
			return
		}
	}

	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}

	switch payload.Type {
	case "subscription.blocked", "subscription.past_due":
		err = h.repo.SetSubscriptionBlocked(r.Context(), orgID, true)
	case "subscription.active", "subscription.resumed":
		err = h.repo.SetSubscriptionBlocked(r.Context(), orgID, false)
	default:
		// acknowledged, nothing for us in it
		httputil.OK(w, map[string]bool{"received": true})
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"received": true})
}

func verifySignature(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
