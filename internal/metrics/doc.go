// Package metrics owns the per-mailbox rolling windows (1h, 24h, 7d)
// and the risk recompute cycle. Counter writes are atomic SQL
// increments; windows rotate before any increment, never after, so a
// stale window can never absorb fresh events.
package metrics
