// Package host implements the sandboxed execution host: the lifecycle
// manager for the single live execution session, the READY handshake
// validation, the recovery policy for fatal in-context faults, and the
// auth-gated overlay derivation.
//
// All session state lives on one event loop goroutine. Inbound context
// messages, relay completions, connection status changes, and public
// operations are discrete events processed one at a time; no component
// other than this loop ever transitions the session.
package host
