// Package monitor is the threshold brain of the control plane. It
// consumes send and bounce events from the work queue, keeps the
// rolling counters moving, and decides when a mailbox gets warned,
// paused, or redirected by correlation to a domain, campaign, or
// provider action.
//
// Every mutating decision passes through applyPolicy: observe mode
// logs what would happen, suggest mode raises a notification, and only
// enforce mode touches state.
package monitor
