// Package relay mediates every outbound network call the sandboxed code
// attempts. Tickets are keyed by request id, serviced concurrently, and
// scoped to one session nonce; any failure the upstream produces is
// converted into the synthetic response shape so the generated code can
// never observe the host's internal error types.
package relay
