// Package healing owns everything that happens after a pause: the
// graduated recovery ladder (paused, quarantine, restricted_send,
// warm_recovery, healthy), the resilience score that speeds up or
// slows down the climb, per-phase volume limits, aggregate daily
// throttles, and relapse demotion when a recovering entity bounces.
package healing
