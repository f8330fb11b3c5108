package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Aggregate daily caps while anything in scope is recovering.
const (
	DomainDailyCapDefault = 30
	OrgDailyCapDefault    = 100
)

// keys live slightly past a day so a counter read at 23:59 still works
// at 00:01 the next day without leaking forever.
const throttleTTL = 25 * time.Hour

// Throttle tracks "sent today" per mailbox, domain and organization in
// Redis daily counters, separate from the rolling risk windows. Without
// Redis every read reports zero, which fails open: the gate then
// relies on per-mailbox state alone.
type Throttle struct {
	rdb *redis.Client
	now func() time.Time
}

// NewThrottle creates the daily throttle counter store.
func NewThrottle(rdb *redis.Client) *Throttle {
	return &Throttle{rdb: rdb, now: time.Now}
}

func (t *Throttle) key(scope, id string) string {
	return fmt.Sprintf("throttle:day:%s:%s:%s", scope, id, t.now().UTC().Format("2006-01-02"))
}

// RecordSend bumps today's counters for the mailbox, its domain and
// the org.
func (t *Throttle) RecordSend(ctx context.Context, mailboxID, domainID, orgID string) error {
	if t.rdb == nil {
		return nil
	}
	pipe := t.rdb.Pipeline()
	for _, k := range []string{t.key("mailbox", mailboxID), t.key("domain", domainID), t.key("org", orgID)} {
		pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, throttleTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MailboxSentToday returns today's send count for a mailbox.
func (t *Throttle) MailboxSentToday(ctx context.Context, mailboxID string) (int, error) {
	return t.read(ctx, t.key("mailbox", mailboxID))
}

// DomainSentToday returns today's send count for a domain.
func (t *Throttle) DomainSentToday(ctx context.Context, domainID string) (int, error) {
	return t.read(ctx, t.key("domain", domainID))
}

// OrgSentToday returns today's send count for an organization.
func (t *Throttle) OrgSentToday(ctx context.Context, orgID string) (int, error) {
	return t.read(ctx, t.key("org", orgID))
}

func (t *Throttle) read(ctx context.Context, key string) (int, error) {
	if t.rdb == nil {
		return 0, nil
	}
	n, err := t.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
