// Package api is the HTTP surface of the control plane: the webhook
// receiver sending platforms post events to, the SSE progress stream,
// the admin RPC endpoint and the ops endpoints (health, stats).
//
// The webhook receiver never surfaces errors to the caller. Malformed
// payloads are logged and dropped and the response is always 200, so a
// platform never disables its webhook because of our bugs.
package api
