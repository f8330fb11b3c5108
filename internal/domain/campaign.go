package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// RoutingRules controls how leads are spread across a campaign's mailboxes.
// Capacity is derived from the mailbox count: ideal = mailboxes x 75,
// max = mailboxes x 150.
type RoutingRules struct {
	IdealLeadsPerMailbox int  `json:"ideal_leads_per_mailbox"`
	MaxLeadsPerMailbox   int  `json:"max_leads_per_mailbox"`
	SpreadEvenly         bool `json:"spread_evenly"`
}

// DefaultRoutingRules returns the capacity rules applied when a campaign
// has none persisted.
func DefaultRoutingRules() RoutingRules {
	return RoutingRules{IdealLeadsPerMailbox: 75, MaxLeadsPerMailbox: 150, SpreadEvenly: true}
}

// Campaign is a sending program that assigns leads to mailboxes.
// The mailbox set is a non-owning many-to-many association.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Name           string         `json:"name" db:"name"`
	Status         CampaignStatus `json:"status" db:"status"`
	RoutingRules   RoutingRules   `json:"routing_rules" db:"routing_rules"`

	SentCount   int64 `json:"sent_count" db:"sent_count"`
	BounceCount int64 `json:"bounce_count" db:"bounce_count"`
	ReplyCount  int64 `json:"reply_count" db:"reply_count"`
	LeadCount   int   `json:"lead_count" db:"lead_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IdealCapacity returns the target lead count for the given mailbox count.
func (c *Campaign) IdealCapacity(mailboxes int) int {
	r := c.RoutingRules
	if r.IdealLeadsPerMailbox <= 0 {
		r = DefaultRoutingRules()
	}
	return mailboxes * r.IdealLeadsPerMailbox
}

// MaxCapacity returns the hard lead ceiling for the given mailbox count.
func (c *Campaign) MaxCapacity(mailboxes int) int {
	r := c.RoutingRules
	if r.MaxLeadsPerMailbox <= 0 {
		r = DefaultRoutingRules()
	}
	return mailboxes * r.MaxLeadsPerMailbox
}
