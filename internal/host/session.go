package host

import (
	"time"

	"github.com/forgeui/renderhost/internal/bundle"
	"github.com/forgeui/renderhost/internal/host/relay"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/sandbox"
	"github.com/forgeui/renderhost/internal/shared/id"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// State is the lifecycle state of the execution session.
type State string

const (
	// StateEmpty means no bundle is mounted.
	StateEmpty State = "empty"
	// StateMounting means a context is booting and the READY handshake
	// is outstanding.
	StateMounting State = "mounting"
	// StateReady means the handshake validated and rendering may proceed.
	StateReady State = "ready"
	// StateFailed means a fatal fault occurred with no recoverable
	// last-good bundle.
	StateFailed State = "failed"
)

// ExecutionSession is the record for one mount. It is owned exclusively
// by the Host's event loop: other components read its nonce and state
// through snapshots and report events back, but never transition it.
// At most one session is live per host.
type ExecutionSession struct {
	ID         id.SessionID
	Nonce      nonce.Token
	BundleHash string
	Theme      protocol.Theme
	State      State
	MountedAt  time.Time

	bundle  *bundle.Bundle
	ctx     sandbox.Context
	relay   *relay.Relay
	docHTML string

	// recovered marks a mount produced by the recovery controller. It is
	// cleared on validated READY; a fatal fault while it is still set is
	// surfaced instead of retried.
	recovered bool

	stopPump chan struct{}
	deadline *time.Timer
}

// Snapshot is the read-only projection of host state handed to callers
// outside the event loop. The session nonce is deliberately absent: it
// is shared with nothing but the context itself.
type Snapshot struct {
	SessionID   id.SessionID     `json:"sessionId,omitempty"`
	State       State            `json:"state"`
	BundleHash  string           `json:"bundleHash,omitempty"`
	BundleTitle string           `json:"bundleTitle,omitempty"`
	Theme       protocol.Theme   `json:"theme,omitempty"`
	Overlay     string           `json:"overlay"`
	Outstanding int              `json:"outstandingTickets"`
	MountedAt   time.Time        `json:"mountedAt,omitempty"`
	HasLastGood bool             `json:"hasLastGood"`
	HasPending  bool             `json:"hasPendingBundle"`
	Connection  ConnectionReport `json:"connection"`
}

// ConnectionReport summarizes the upstream view driving the overlay.
type ConnectionReport struct {
	BaseURL       string `json:"baseUrl"`
	Status        string `json:"status"`
	EverConnected bool   `json:"everConnected"`
}
