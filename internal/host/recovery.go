package host

import (
	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// onFatal drives the recovery policy for a fatal in-context fault. Runs
// on the event loop.
//
// Recovery is bounded to one attempt per fault: a mount produced by
// recovery that faults again before reaching READY is surfaced as FAILED
// instead of remounted, which is what prevents retry storms. Recovery
// touches only the execution context; tabs, history, and every other
// piece of outer application state are untouched.
func (h *Host) onFatal(reason string) {
	s := h.session
	if s == nil {
		return
	}

	if s.recovered || h.lastGood == nil {
		h.fail(reason)
		return
	}

	h.log.Warn("fatal fault, recovering last known-good bundle",
		zap.String("reason", reason),
		zap.String("bundle_hash", h.lastGood.Hash()))
	if h.metrics != nil {
		h.metrics.RecoveriesTotal.WithLabelValues("attempted").Inc()
	}
	h.emit(Event{Type: EventRecovering, Message: reason, SessionID: s.ID})

	if err := h.mount(h.lastGood, s.Theme, true); err != nil {
		h.log.Error("recovery mount failed", zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecoveriesTotal.WithLabelValues("failed").Inc()
		}
		h.fail(reason)
	}
}

// fail tears the context down and parks the session in FAILED. The record
// survives so the shell can show a persistent inline error; no further
// auto-recovery is attempted for this mount.
func (h *Host) fail(reason string) {
	s := h.session
	h.teardown()

	failed := &ExecutionSession{State: StateFailed}
	if s != nil {
		failed.ID = s.ID
		failed.BundleHash = s.BundleHash
		failed.Theme = s.Theme
		failed.MountedAt = s.MountedAt
		failed.bundle = s.bundle
	}
	h.session = failed

	if h.metrics != nil {
		h.metrics.SetSessionState(string(StateFailed))
	}
	h.log.Error("session failed", zap.String("reason", reason))
	h.emit(Event{Type: EventFatal, State: StateFailed, SessionID: failed.ID, Message: reason})
}

// onHandshakeTimeout fires when a mount does not reach READY within its
// deadline. A stale timer from a superseded session is ignored via the
// nonce check.
func (h *Host) onHandshakeTimeout(token nonce.Token) {
	s := h.session
	if s == nil || !s.Nonce.Equal(token) || s.State != StateMounting {
		return
	}
	if h.metrics != nil {
		h.metrics.HandshakeFailures.WithLabelValues("timeout").Inc()
	}
	h.log.Error("handshake deadline exceeded",
		zap.String("session_id", s.ID.String()))
	h.onFatal("handshake timeout: context never reached READY")
}
