// Package overlay computes the auth-derived visibility mode layered on
// top of the execution context. It is a pure function of inputs the
// lifecycle manager and gateway own; nothing here mounts, unmounts, or
// otherwise touches the context.
package overlay

import "github.com/forgeui/renderhost/internal/gateway"

// State is the host-side visibility mode.
type State string

const (
	// StateNone leaves the context fully interactive.
	StateNone State = "none"
	// StateUnauthenticatedPlaceholder replaces the context entirely; the
	// API was never connected so there is nothing meaningful to run.
	StateUnauthenticatedPlaceholder State = "unauthenticated_placeholder"
	// StateExpiredBlur keeps the context mounted and running but blocks
	// interaction above it until re-authentication completes. Leaving
	// this state never remounts; context state is preserved throughout.
	StateExpiredBlur State = "expired_blur"
)

// Inputs are the facts the overlay is derived from.
type Inputs struct {
	HasBundle     bool
	AuthRequired  bool
	EverConnected bool
	Status        gateway.ConnectionStatus
}

// Compute derives the overlay state. It is invoked on every connection
// status change and every bundle change.
func Compute(in Inputs) State {
	if !in.HasBundle {
		return StateNone
	}
	if !in.AuthRequired {
		return StateNone
	}

	switch in.Status {
	case gateway.StatusDisconnected, gateway.StatusConnecting, gateway.StatusUnreachable:
		if !in.EverConnected {
			return StateUnauthenticatedPlaceholder
		}
		return StateNone
	case gateway.StatusExpired:
		return StateExpiredBlur
	default:
		return StateNone
	}
}
