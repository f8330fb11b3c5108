package domain

import "time"

// Lead is a recipient candidate, unique per organization by email.
type Lead struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Email          string    `json:"email" db:"email"`
	Persona        string    `json:"persona" db:"persona"`
	LeadScore      int       `json:"lead_score" db:"lead_score"`
	Status         LeadState `json:"status" db:"status"`

	// AssignedCampaignID is a weak reference; the campaign may be deleted
	// out from under the lead.
	AssignedCampaignID *string `json:"assigned_campaign_id" db:"assigned_campaign_id"`

	SentCount  int `json:"sent_count" db:"sent_count"`
	OpenCount  int `json:"open_count" db:"open_count"`
	ReplyCount int `json:"reply_count" db:"reply_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
