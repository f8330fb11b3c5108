package domain

import "time"

// EventType identifies an inbound engagement event from a sending platform.
type EventType string

const (
	EventEmailSent     EventType = "EMAIL_SENT"
	EventBounce        EventType = "BOUNCE"
	EventHardBounce    EventType = "HARD_BOUNCE"
	EventReply         EventType = "REPLY"
	EventSpamComplaint EventType = "SPAM_COMPLAINT"
	EventOpen          EventType = "OPEN"
)

// RawEvent is an immutable row in the append-only event log. Only the
// processed/retry bookkeeping fields are ever updated after insert.
type RawEvent struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	EventType      EventType      `json:"event_type" db:"event_type"`
	EntityType     EntityType     `json:"entity_type" db:"entity_type"`
	EntityID       string         `json:"entity_id" db:"entity_id"`
	CampaignID     *string        `json:"campaign_id" db:"campaign_id"`
	Payload        map[string]any `json:"payload" db:"payload"`
	IdempotencyKey *string        `json:"idempotency_key" db:"idempotency_key"`

	Processed    bool       `json:"processed" db:"processed"`
	ProcessedAt  *time.Time `json:"processed_at" db:"processed_at"`
	ErrorMessage *string    `json:"error_message" db:"error_message"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PayloadString returns a string payload field, or "" when absent.
func (e *RawEvent) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// StateTransition is the immutable audit row written alongside every
// entity state change, in the same transaction.
type StateTransition struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	EntityType     EntityType `json:"entity_type" db:"entity_type"`
	EntityID       string     `json:"entity_id" db:"entity_id"`
	FromState      string     `json:"from_state" db:"from_state"`
	ToState        string     `json:"to_state" db:"to_state"`
	Reason         string     `json:"reason" db:"reason"`
	TriggeredBy    string     `json:"triggered_by" db:"triggered_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// NotificationSeverity grades user-visible notifications.
type NotificationSeverity string

const (
	SeverityError    NotificationSeverity = "ERROR"
	SeverityWarning  NotificationSeverity = "WARNING"
	SeveritySuccess  NotificationSeverity = "SUCCESS"
	SeverityCritical NotificationSeverity = "CRITICAL"
)

// Notification is an append-only user-visible record. Kind is the dedup
// key: at most one notification per (org, campaign, kind) per 24h.
type Notification struct {
	ID             string               `json:"id" db:"id"`
	OrganizationID string               `json:"organization_id" db:"organization_id"`
	CampaignID     *string              `json:"campaign_id" db:"campaign_id"`
	Severity       NotificationSeverity `json:"severity" db:"severity"`
	Kind           string               `json:"kind" db:"kind"`
	Title          string               `json:"title" db:"title"`
	Message        string               `json:"message" db:"message"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
}

// AuditLog is an append-only operational record keyed by
// (entity_type, entity_id, action).
type AuditLog struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	EntityType     EntityType `json:"entity_type" db:"entity_type"`
	EntityID       string     `json:"entity_id" db:"entity_id"`
	Action         string     `json:"action" db:"action"`
	Detail         string     `json:"detail" db:"detail"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
