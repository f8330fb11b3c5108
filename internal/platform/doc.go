// Package platform holds the outbound side of the control plane: the
// Adapter contract every sending platform integration satisfies, a
// reference HTTP adapter, and the per-platform protections around it
// (circuit breaker, token-bucket rate limiter, retrying client).
//
// External ids are prefixed with the platform's short code ("eb-" for
// the reference platform) as soon as they enter the system, so rows
// from different platforms can never collide.
package platform
