// Package queue is the durable work queue between the event store and
// the monitor. Jobs are idempotent per event id, retried three times
// with growing backoff, and parked in a dead-letter partition with
// admin list/retry operations after the final failure.
//
// When Redis is not configured the queue degrades to inline execution
// on the caller's goroutine; handler failures still mark the source
// event failed so nothing is silently lost.
package queue
