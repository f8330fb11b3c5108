package domain

import "time"

// Organization is the multi-tenant root. Every other entity hangs off one.
// The execution gate stays locked until AssessmentCompleted is true.
type Organization struct {
	ID                  string     `json:"id" db:"id"`
	Name                string     `json:"name" db:"name"`
	SystemMode          SystemMode `json:"system_mode" db:"system_mode"`
	AssessmentCompleted bool       `json:"assessment_completed" db:"assessment_completed"`
	SubscriptionBlocked bool       `json:"subscription_blocked" db:"subscription_blocked"`
	WebhookSecret       string     `json:"-" db:"webhook_secret"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}
