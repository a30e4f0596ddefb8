package host

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/bundle"
	"github.com/forgeui/renderhost/internal/gateway"
	"github.com/forgeui/renderhost/internal/host/document"
	"github.com/forgeui/renderhost/internal/host/overlay"
	"github.com/forgeui/renderhost/internal/host/relay"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/shared/id"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// mount supersedes any current session and boots a fresh context for b
// under a new nonce. Runs on the event loop.
func (h *Host) mount(b *bundle.Bundle, theme protocol.Theme, isRecovery bool) error {
	h.teardown()

	token := nonce.MustNew()
	doc, err := document.Build(b, token, protocol.InitPayload{
		Theme:     theme,
		Container: h.cfg.Container,
	})
	if err != nil {
		return fmt.Errorf("failed to build host document: %w", err)
	}
	html, err := doc.HTML()
	if err != nil {
		return err
	}

	ctx := h.factory()
	rl := relay.New(token, h.requester, h.cfg.RelayTimeout, func(p protocol.NetworkResponsePayload) {
		h.enqueue(func() { h.deliverResponse(token, p) })
	}, h.log)
	if h.metrics != nil {
		rl = rl.WithMetrics(h.metrics)
	}

	session := &ExecutionSession{
		ID:         id.NewSessionID(),
		Nonce:      token,
		BundleHash: b.Hash(),
		Theme:      theme,
		State:      StateMounting,
		MountedAt:  time.Now(),
		bundle:     b,
		ctx:        ctx,
		relay:      rl,
		docHTML:    html,
		recovered:  isRecovery,
		stopPump:   make(chan struct{}),
	}

	if err := ctx.Load(doc); err != nil {
		ctx.Destroy()
		return fmt.Errorf("failed to load context: %w", err)
	}

	h.session = session
	h.startPump(session)

	session.deadline = time.AfterFunc(h.cfg.HandshakeDeadline, func() {
		h.enqueue(func() { h.onHandshakeTimeout(token) })
	})

	kind := "mount"
	if isRecovery {
		kind = "remount"
	}
	if h.metrics != nil {
		h.metrics.MountsTotal.WithLabelValues(kind).Inc()
		h.metrics.SetSessionState(string(StateMounting))
	}
	h.log.Info("context mounted",
		zap.String("session_id", session.ID.String()),
		zap.String("bundle_hash", b.Hash()),
		zap.Bool("recovery", isRecovery))

	h.emit(Event{Type: EventStateChanged, State: StateMounting, SessionID: session.ID})
	h.recomputeOverlay()
	return nil
}

// unmount is the single cancellation point: outstanding tickets are
// resolved with destroyed failures and delivered into the context before
// it is torn down, then the nonce dies with the session record.
func (h *Host) unmount() {
	if h.session == nil {
		return
	}
	h.teardown()
	if h.metrics != nil {
		h.metrics.SetSessionState(string(StateEmpty))
	}
	h.emit(Event{Type: EventStateChanged, State: StateEmpty})
	h.recomputeOverlay()
}

// teardown destroys the current context, if any, without emitting the
// empty-state transition. Used by both unmount and supersede-by-mount.
func (h *Host) teardown() {
	s := h.session
	if s == nil {
		return
	}
	if s.deadline != nil {
		s.deadline.Stop()
	}
	if s.stopPump != nil {
		close(s.stopPump)
		s.stopPump = nil
	}
	if s.relay != nil {
		for _, p := range s.relay.Close() {
			if msg, err := protocol.NewNetworkResponse(s.Nonce, p); err == nil && s.ctx != nil {
				_ = s.ctx.Post(msg)
			}
		}
	}
	if s.ctx != nil {
		s.ctx.Destroy()
	}
	h.session = nil
}

// startPump forwards the context's messages onto the event loop. The pump
// is the session-scoped subscription: it dies with the session, so a
// superseded context's channel is never read into current state.
func (h *Host) startPump(s *ExecutionSession) {
	stop := s.stopPump
	msgs := s.ctx.Messages()
	go func() {
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				h.enqueue(func() { h.onInbound(msg) })
			}
		}
	}()
}

// postToContext sends a message into the current context.
func (h *Host) postToContext(msg protocol.Message) {
	if h.session == nil || h.session.ctx == nil {
		return
	}
	if err := h.session.ctx.Post(msg); err != nil {
		h.log.Warn("failed to post to context",
			zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

// deliverResponse delivers a relay result into the context iff the
// session that opened the ticket is still current. Responses for a
// superseded nonce are discarded, never delivered into a stale context.
func (h *Host) deliverResponse(token nonce.Token, p protocol.NetworkResponsePayload) {
	if h.session == nil || !h.session.Nonce.Equal(token) {
		h.log.Debug("discarding response for superseded session",
			zap.String("request_id", p.RequestID))
		return
	}
	msg, err := protocol.NewNetworkResponse(token, p)
	if err != nil {
		return
	}
	h.postToContext(msg)
}

// placeholderActive reports whether mounting must wait for first
// authentication: the context is not created at all behind the
// unauthenticated placeholder.
func (h *Host) placeholderActive() bool {
	if !h.cfg.AuthRequired || h.everConnected {
		return false
	}
	switch h.connStatus {
	case gateway.StatusDisconnected, gateway.StatusConnecting, gateway.StatusUnreachable:
		return true
	default:
		return false
	}
}

// onStatus reacts to an upstream connection status change. Runs on the
// event loop.
func (h *Host) onStatus(status gateway.ConnectionStatus) {
	h.connStatus = status
	if status == gateway.StatusConnected || status == gateway.StatusDegraded {
		h.everConnected = true
	}

	// A bundle held behind the placeholder mounts as soon as the
	// upstream is first usable.
	if h.pending != nil && !h.placeholderActive() {
		b, theme := h.pending, h.pendingTheme
		h.pending = nil
		if err := h.mount(b, theme, false); err != nil {
			h.log.Error("failed to mount held bundle", zap.Error(err))
		}
		return
	}

	h.recomputeOverlay()
}

// recomputeOverlay derives the overlay state from current facts. The
// overlay never mounts or unmounts anything: transitions into and out of
// the expired blur leave the context instance untouched.
func (h *Host) recomputeOverlay() {
	next := overlay.Compute(overlay.Inputs{
		HasBundle:     h.session != nil || h.pending != nil,
		AuthRequired:  h.cfg.AuthRequired,
		EverConnected: h.everConnected,
		Status:        h.connStatus,
	})
	if next == h.overlayState {
		return
	}
	h.overlayState = next
	if h.metrics != nil {
		h.metrics.SetOverlayState(string(next))
	}
	h.log.Info("overlay changed", zap.String("overlay", string(next)))
	h.emit(Event{Type: EventOverlayChanged, Overlay: next})
}
