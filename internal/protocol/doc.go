// Package protocol defines the message channel between the host and the
// isolated execution context.
//
// Every message is an envelope {type, payload, nonce, timestamp}. The
// payload is a tagged union keyed by type and is validated at the boundary
// before dispatch; unknown or malformed payloads never reach host state.
package protocol
