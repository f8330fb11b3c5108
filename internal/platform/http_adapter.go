package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/pkg/httpretry"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// Breaker tuning shared by every platform adapter.
const (
	breakerFailures   = 5
	breakerOpenFor    = 30 * time.Second
	breakerHalfOpen   = 2 // consecutive successes to close
	defaultRateBurst  = 10
	defaultRatePerSec = 5.0
)

// HTTPAdapter talks to a sending platform over its JSON API. Every
// call passes the rate limiter first, then the circuit breaker, then
// the retrying client.
type HTTPAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
	breaker *gobreaker.CircuitBreaker
	limiter *RateLimiter
	log     *logger.Logger
}

// NewHTTPAdapter builds an adapter from config. A nil rdb leaves the
// rate limiter process-local.
func NewHTTPAdapter(cfg config.PlatformConfig, rdb *redis.Client) *HTTPAdapter {
	base := &http.Client{Timeout: cfg.Timeout()}
	return &HTTPAdapter{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey(),
		client:  httpretry.NewRetryClient(base, 3),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: breakerHalfOpen,
			Timeout:     breakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
		}),
		limiter: NewRateLimiter(rdb, cfg.Name, defaultRateBurst, defaultRatePerSec),
		log:     logger.For("platform." + cfg.Name),
	}
}

// NewRegistryFromConfig builds adapters for every enabled platform.
func NewRegistryFromConfig(cfgs []config.PlatformConfig, rdb *redis.Client) *Registry {
	var adapters []Adapter
	for _, c := range cfgs {
		if c.Enabled {
			adapters = append(adapters, NewHTTPAdapter(c, rdb))
		}
	}
	return NewRegistry(adapters...)
}

// Name returns the configured platform name.
func (a *HTTPAdapter) Name() string { return a.name }

// RemoveMailboxFromCampaigns detaches a mailbox from all campaigns.
// A 404 counts as success: the account is already gone upstream.
func (a *HTTPAdapter) RemoveMailboxFromCampaigns(ctx context.Context, orgID, mailboxID string) error {
	path := fmt.Sprintf("/api/email-accounts/%s/campaigns", url.PathEscape(StripID(mailboxID)))
	_, status, err := a.do(ctx, http.MethodDelete, path, orgID)
	if err != nil {
		if status == http.StatusNotFound {
			a.log.Info("mailbox already absent upstream", "mailbox_id", mailboxID)
			return nil
		}
		return fmt.Errorf("platform %s: remove mailbox %s: %w", a.name, mailboxID, err)
	}
	return nil
}

// wire shapes for the reference platform's list envelopes
type remoteCampaignWire struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
}

type remoteMailboxWire struct {
	ID         json.Number `json:"id"`
	Email      string      `json:"email"`
	SMTPStatus bool        `json:"smtp_status"`
	IMAPStatus bool        `json:"imap_status"`
}

// Sync pulls the org's campaigns and mailboxes and namespaces the ids.
func (a *HTTPAdapter) Sync(ctx context.Context, orgID string) (*SyncResult, error) {
	var campaigns struct {
		Data []remoteCampaignWire `json:"data"`
	}
	body, _, err := a.do(ctx, http.MethodGet, "/api/campaigns", orgID)
	if err != nil {
		return nil, fmt.Errorf("platform %s: list campaigns: %w", a.name, err)
	}
	if err := json.Unmarshal(body, &campaigns); err != nil {
		return nil, fmt.Errorf("platform %s: decode campaigns: %w", a.name, err)
	}

	var mailboxes struct {
		Data []remoteMailboxWire `json:"data"`
	}
	body, _, err = a.do(ctx, http.MethodGet, "/api/email-accounts", orgID)
	if err != nil {
		return nil, fmt.Errorf("platform %s: list email accounts: %w", a.name, err)
	}
	if err := json.Unmarshal(body, &mailboxes); err != nil {
		return nil, fmt.Errorf("platform %s: decode email accounts: %w", a.name, err)
	}

	res := &SyncResult{}
	for _, c := range campaigns.Data {
		res.Campaigns = append(res.Campaigns, RemoteCampaign{
			ID:     PrefixID(c.ID.String()),
			Name:   c.Name,
			Status: c.Status,
		})
	}
	for _, m := range mailboxes.Data {
		res.Mailboxes = append(res.Mailboxes, RemoteMailbox{
			ID:         PrefixID(m.ID.String()),
			Email:      m.Email,
			SMTPStatus: m.SMTPStatus,
			IMAPStatus: m.IMAPStatus,
		})
	}
	a.log.Info("sync fetched",
		"org_id", orgID, "campaigns", len(res.Campaigns), "mailboxes", len(res.Mailboxes))
	return res, nil
}

// do runs one guarded call and returns the body and status code.
func (a *HTTPAdapter) do(ctx context.Context, method, path, orgID string) ([]byte, int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	status := 0
	out, err := a.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Organization-ID", orgID)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return nil, status, err
	}
	return out.([]byte), status, nil
}
