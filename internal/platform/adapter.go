package platform

import (
	"context"
	"errors"
	"strings"
)

// IDPrefix is the namespace prefix for the reference platform's ids.
const IDPrefix = "eb-"

// PrefixID namespaces an external id. Already-prefixed ids pass through.
func PrefixID(external string) string {
	if strings.HasPrefix(external, IDPrefix) {
		return external
	}
	return IDPrefix + external
}

// StripID recovers the external id from a namespaced one.
func StripID(internal string) string {
	return strings.TrimPrefix(internal, IDPrefix)
}

// RemoteCampaign is a campaign as reported by a sending platform.
// ID arrives already namespaced.
type RemoteCampaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// RemoteMailbox is a mailbox as reported by a sending platform.
type RemoteMailbox struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	SMTPStatus bool   `json:"smtp_status"`
	IMAPStatus bool   `json:"imap_status"`
}

// SyncResult carries one platform's view of an org's infrastructure.
type SyncResult struct {
	Campaigns []RemoteCampaign
	Mailboxes []RemoteMailbox
}

// Adapter is the contract a sending platform integration satisfies.
// Implementations are responsible for their own retries, breaker and
// rate limiting; callers treat every method as a single slow call.
type Adapter interface {
	Name() string

	// RemoveMailboxFromCampaigns detaches the mailbox from every
	// campaign on the platform. Best-effort from the caller's view.
	RemoveMailboxFromCampaigns(ctx context.Context, orgID, mailboxID string) error

	// Sync fetches the org's campaigns and mailboxes.
	Sync(ctx context.Context, orgID string) (*SyncResult, error)
}

// ErrUnknownPlatform is returned by Registry.Get for unconfigured names.
var ErrUnknownPlatform = errors.New("platform: unknown platform")

// Registry holds the configured adapters. It also satisfies the
// monitor's removal contract by fanning out across every adapter.
type Registry struct {
	adapters []Adapter
	byName   map[string]Adapter
}

// NewRegistry builds a registry from pre-built adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byName: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters = append(r.adapters, a)
		r.byName[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownPlatform
	}
	return a, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	return r.adapters
}

// RemoveMailboxFromCampaigns fans the removal out to every adapter.
// The first error is returned after all adapters have been tried.
func (r *Registry) RemoveMailboxFromCampaigns(ctx context.Context, orgID, mailboxID string) error {
	var first error
	for _, a := range r.adapters {
		if err := a.RemoveMailboxFromCampaigns(ctx, orgID, mailboxID); err != nil && first == nil {
			first = err
		}
	}
	return first
}
