// Package gateway is the authenticated-request collaborator: it relays
// the sandboxed code's API calls upstream with retry, rate limiting, and
// a circuit breaker, and projects a per-base connection status
// (disconnected, connecting, connected, degraded, expired, unreachable)
// that the overlay controller reads.
//
// Credential lifecycles are out of scope here; the outer auth
// collaborator configures the transport and reports auth-flow status via
// SetStatus.
package gateway
