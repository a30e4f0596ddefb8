package host

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/protocol"
)

// onInbound is the single entry point for messages from the execution
// context. Runs on the event loop. Nonce filtering happens before
// anything else: a message scoped to a superseded session never triggers
// a state transition, it is logged and dropped.
func (h *Host) onInbound(msg protocol.Message) {
	s := h.session
	if s == nil {
		h.log.Debug("message with no live session", zap.String("type", string(msg.Type)))
		return
	}
	if !msg.Nonce.Equal(s.Nonce) {
		h.log.Debug("nonce mismatch, message discarded",
			zap.String("type", string(msg.Type)))
		if h.metrics != nil {
			h.metrics.NonceRejectsTotal.Inc()
		}
		return
	}

	payload, err := protocol.ParseInbound(msg)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnknownType):
			h.log.Warn("unexpected message type ignored",
				zap.String("type", string(msg.Type)))
			if h.metrics != nil {
				h.metrics.UnknownTypesTotal.Inc()
			}
		default:
			h.log.Warn("malformed payload rejected",
				zap.String("type", string(msg.Type)), zap.Error(err))
			if h.metrics != nil {
				h.metrics.MalformedTotal.Inc()
			}
		}
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesTotal.WithLabelValues(string(msg.Type)).Inc()
	}

	switch p := payload.(type) {
	case protocol.ReadyPayload:
		h.onReady(p)
	case protocol.ErrorPayload:
		h.onError(p)
	case protocol.NetworkRequestPayload:
		h.onNetworkRequest(p)
	}
}

// onReady validates the READY handshake. The payload must repeat the
// session nonce: a context replaying an old handshake after being handed
// a new nonce fails this second confirmation and is treated as a nonce
// mismatch.
func (h *Host) onReady(p protocol.ReadyPayload) {
	s := h.session
	if !p.Nonce.Equal(s.Nonce) {
		h.log.Warn("READY payload nonce mismatch, discarded")
		if h.metrics != nil {
			h.metrics.NonceRejectsTotal.Inc()
		}
		return
	}
	if s.State != StateMounting {
		h.log.Debug("duplicate READY ignored", zap.String("state", string(s.State)))
		return
	}

	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}

	wasRecovery := s.recovered
	s.State = StateReady
	s.recovered = false
	h.lastGood = s.bundle

	if msg, err := protocol.NewInit(s.Nonce, s.Theme, h.cfg.Container); err == nil {
		h.postToContext(msg)
	}

	if h.metrics != nil {
		h.metrics.HandshakeDuration.Observe(time.Since(s.MountedAt).Seconds())
		h.metrics.SetSessionState(string(StateReady))
		if wasRecovery {
			h.metrics.RecoveriesTotal.WithLabelValues("succeeded").Inc()
		}
	}
	h.log.Info("handshake complete, rendering may proceed",
		zap.String("session_id", s.ID.String()),
		zap.String("version", p.Version))

	h.emit(Event{Type: EventReady, State: StateReady, SessionID: s.ID})
	if wasRecovery {
		h.emit(Event{Type: EventRecovered, State: StateReady, SessionID: s.ID})
	}
}

// onError handles a runtime fault reported by the generated code.
func (h *Host) onError(p protocol.ErrorPayload) {
	if !p.IsFatal {
		if h.metrics != nil {
			h.metrics.RuntimeFaultsTotal.WithLabelValues("diagnostic").Inc()
		}
		h.log.Info("context diagnostic", zap.String("message", p.Message))
		h.emit(Event{Type: EventDiagnostic, Message: p.Message, SessionID: h.session.ID})
		return
	}

	if h.metrics != nil {
		h.metrics.RuntimeFaultsTotal.WithLabelValues("fatal").Inc()
	}
	h.onFatal(p.Message)
}

// onNetworkRequest routes a network ticket to the relay. Requests before
// the handshake completes are answered with a synthetic failure rather
// than serviced: the relay only works for a READY session.
func (h *Host) onNetworkRequest(p protocol.NetworkRequestPayload) {
	s := h.session
	if s.State != StateReady {
		h.log.Warn("network request before READY rejected",
			zap.String("request_id", p.RequestID))
		h.deliverResponse(s.Nonce, protocol.SyntheticFailure(p.RequestID, "session not ready"))
		return
	}
	s.relay.Handle(p)
}
