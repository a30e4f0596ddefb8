package host

import (
	"errors"
	"sync"
	"time"

	"github.com/forgeui/renderhost/internal/bundle"
	"github.com/forgeui/renderhost/internal/gateway"
	"github.com/forgeui/renderhost/internal/host/overlay"
	"github.com/forgeui/renderhost/internal/infrastructure/monitoring"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/sandbox"
	"github.com/forgeui/renderhost/internal/shared/id"
)

var (
	// ErrHostClosed is returned for operations on a closed host.
	ErrHostClosed = errors.New("host is closed")
	// ErrNoSession is returned when an operation needs a mounted session.
	ErrNoSession = errors.New("no session mounted")
)

// ContextFactory creates a fresh isolated execution context per mount.
type ContextFactory func() sandbox.Context

// Config parameterizes the host.
type Config struct {
	// BaseURL of the upstream API the generated UI talks to.
	BaseURL string
	// AuthRequired gates execution behind upstream authentication.
	AuthRequired bool
	// HandshakeDeadline bounds mount-to-READY.
	HandshakeDeadline time.Duration
	// RelayTimeout bounds each network ticket.
	RelayTimeout time.Duration
	// Container is the render area reported to the context at boot.
	Container protocol.ContainerSize
}

// DefaultConfig returns standard host settings.
func DefaultConfig() Config {
	return Config{
		AuthRequired:      true,
		HandshakeDeadline: 15 * time.Second,
		RelayTimeout:      30 * time.Second,
		Container:         protocol.ContainerSize{Width: 1024, Height: 768},
	}
}

// EventType discriminates host events pushed to the shell.
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventReady          EventType = "ready"
	EventDiagnostic     EventType = "diagnostic"
	EventFatal          EventType = "fatal"
	EventRecovering     EventType = "recovering"
	EventRecovered      EventType = "recovered"
	EventOverlayChanged EventType = "overlay_changed"
)

// Event is a host lifecycle notification. Events carry no nonce and no
// payload from the sandboxed code beyond the diagnostic message text.
type Event struct {
	Type      EventType     `json:"type"`
	State     State         `json:"state,omitempty"`
	Overlay   overlay.State `json:"overlay,omitempty"`
	SessionID id.SessionID  `json:"sessionId,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Host is the sandboxed execution host: it owns the single live
// ExecutionSession and every transition on it. All state changes are
// reactions to discrete events processed one at a time on the host's
// event loop; public methods post onto that loop and wait.
type Host struct {
	cfg       Config
	factory   ContextFactory
	requester gateway.Requester
	status    gateway.StatusSource
	log       *logging.Logger
	metrics   *monitoring.Metrics

	events chan func()
	closed chan struct{}

	closeOnce sync.Once

	subsMu sync.RWMutex
	subs   []func(Event)

	// Loop-owned state. Never touched outside the event loop.
	session       *ExecutionSession
	lastGood      *bundle.Bundle
	pending       *bundle.Bundle
	pendingTheme  protocol.Theme
	connStatus    gateway.ConnectionStatus
	everConnected bool
	overlayState  overlay.State
}

// New creates a host and starts its event loop. metrics may be nil;
// it must be supplied here, before the loop and the status subscription
// go live, never assigned afterwards.
func New(cfg Config, factory ContextFactory, requester gateway.Requester,
	status gateway.StatusSource, metrics *monitoring.Metrics, log *logging.Logger) *Host {
	h := &Host{
		cfg:          cfg,
		factory:      factory,
		requester:    requester,
		status:       status,
		metrics:      metrics,
		log:          log.Named("host"),
		events:       make(chan func(), 256),
		closed:       make(chan struct{}),
		connStatus:   gateway.StatusDisconnected,
		overlayState: overlay.StateNone,
	}

	if status != nil {
		h.connStatus = status.Status(cfg.BaseURL)
		h.everConnected = h.connStatus == gateway.StatusConnected || h.connStatus == gateway.StatusDegraded
		status.Subscribe(func(view gateway.ConnectionView) {
			if view.BaseURL != cfg.BaseURL {
				return
			}
			h.enqueue(func() { h.onStatus(view.Status) })
		})
	}

	go h.run()
	return h
}

// Subscribe registers fn for every host event. Callbacks run on the event
// loop and must not block.
func (h *Host) Subscribe(fn func(Event)) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subs = append(h.subs, fn)
}

// Mount supersedes any current session with a fresh context for b.
// If authentication has never completed and the host is auth-gated, the
// bundle is held and mounted automatically once the upstream connects.
func (h *Host) Mount(b *bundle.Bundle, theme protocol.Theme) (Snapshot, error) {
	return h.callSnapshot(func() (Snapshot, error) {
		if h.placeholderActive() {
			h.pending = b
			h.pendingTheme = theme
			h.recomputeOverlay()
			h.log.Info("bundle held until upstream authentication")
			return h.snapshot(), nil
		}
		if err := h.mount(b, theme, false); err != nil {
			return h.snapshot(), err
		}
		return h.snapshot(), nil
	})
}

// Remount rebuilds the current session's context under a new nonce,
// keeping the same bundle. Nonces are never reused.
func (h *Host) Remount() (Snapshot, error) {
	return h.callSnapshot(func() (Snapshot, error) {
		if h.session == nil || h.session.bundle == nil {
			return h.snapshot(), ErrNoSession
		}
		if err := h.mount(h.session.bundle, h.session.Theme, false); err != nil {
			return h.snapshot(), err
		}
		return h.snapshot(), nil
	})
}

// Unmount tears down the context. Every outstanding network ticket is
// resolved with a destroyed failure before teardown completes, and the
// nonce is invalidated so late messages from the old context are inert.
func (h *Host) Unmount() error {
	_, err := h.callSnapshot(func() (Snapshot, error) {
		h.pending = nil
		h.unmount()
		return h.snapshot(), nil
	})
	return err
}

// SetTheme switches the context theme. Before READY the theme is folded
// into the mount's initial configuration; only the most recent value is
// honored.
func (h *Host) SetTheme(theme protocol.Theme) error {
	_, err := h.callSnapshot(func() (Snapshot, error) {
		if h.session == nil {
			if h.pending != nil {
				h.pendingTheme = theme
				return h.snapshot(), nil
			}
			return h.snapshot(), ErrNoSession
		}
		h.session.Theme = theme
		if h.session.State == StateReady {
			if msg, err := protocol.NewThemeChange(h.session.Nonce, theme); err == nil {
				h.postToContext(msg)
			}
		}
		return h.snapshot(), nil
	})
	return err
}

// Status returns a read-only snapshot of the host.
func (h *Host) Status() Snapshot {
	snap, err := h.callSnapshot(func() (Snapshot, error) {
		return h.snapshot(), nil
	})
	if err != nil {
		return Snapshot{State: StateEmpty, Overlay: string(overlay.StateNone)}
	}
	return snap
}

// Document returns the rendered host document for the current session.
// A failed session has no runnable document.
func (h *Host) Document() (string, error) {
	type res struct {
		html string
		err  error
	}
	ch := make(chan res, 1)
	if err := h.post(func() {
		if h.session == nil || h.session.docHTML == "" {
			ch <- res{"", ErrNoSession}
			return
		}
		ch <- res{h.session.docHTML, nil}
	}); err != nil {
		return "", err
	}
	r := <-ch
	return r.html, r.err
}

// Close unmounts and stops the event loop.
func (h *Host) Close() error {
	err := h.Unmount()
	h.closeOnce.Do(func() { close(h.closed) })
	return err
}

func (h *Host) run() {
	for {
		select {
		case <-h.closed:
			return
		case fn := <-h.events:
			fn()
		}
	}
}

// post submits fn to the event loop and fails if the host is closed.
func (h *Host) post(fn func()) error {
	select {
	case <-h.closed:
		return ErrHostClosed
	case h.events <- fn:
		return nil
	}
}

// enqueue submits fn from a collaborator goroutine, blocking until the
// loop accepts it. Blocking keeps each submitter's closures in its own
// send order; the pump relies on that for FIFO delivery of a session's
// inbound messages. Must never be called from the event loop itself.
func (h *Host) enqueue(fn func()) {
	select {
	case h.events <- fn:
	case <-h.closed:
	}
}

func (h *Host) callSnapshot(fn func() (Snapshot, error)) (Snapshot, error) {
	type res struct {
		snap Snapshot
		err  error
	}
	ch := make(chan res, 1)
	if err := h.post(func() {
		s, e := fn()
		ch <- res{s, e}
	}); err != nil {
		return Snapshot{}, err
	}
	r := <-ch
	return r.snap, r.err
}

func (h *Host) emit(ev Event) {
	ev.Timestamp = time.Now()
	h.subsMu.RLock()
	subs := make([]func(Event), len(h.subs))
	copy(subs, h.subs)
	h.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (h *Host) snapshot() Snapshot {
	snap := Snapshot{
		State:       StateEmpty,
		Overlay:     string(h.overlayState),
		HasLastGood: h.lastGood != nil,
		HasPending:  h.pending != nil,
		Connection: ConnectionReport{
			BaseURL:       h.cfg.BaseURL,
			Status:        string(h.connStatus),
			EverConnected: h.everConnected,
		},
	}
	if h.session != nil {
		snap.SessionID = h.session.ID
		snap.State = h.session.State
		snap.BundleHash = h.session.BundleHash
		snap.Theme = h.session.Theme
		snap.MountedAt = h.session.MountedAt
		if h.session.bundle != nil {
			snap.BundleTitle = h.session.bundle.Title()
		}
		if h.session.relay != nil {
			snap.Outstanding = h.session.relay.Outstanding()
		}
	}
	return snap
}
