// Package events is the system of record for inbound platform events.
//
// Every webhook event is appended here before anything else happens.
// Appends are idempotent on the event's idempotency key, so upstream
// redelivery is harmless. All downstream state is derivable from the
// log; Replay rebuilds it in dry-run (projected actions only) or live
// (handlers re-invoked) mode.
package events
