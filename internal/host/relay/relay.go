package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/gateway"
	"github.com/forgeui/renderhost/internal/infrastructure/monitoring"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// Ticket tracks one outstanding network request. A ticket exists from the
// moment a NETWORK_REQUEST is accepted until its response is dispatched,
// its deadline elapses, or the session is torn down.
type Ticket struct {
	RequestID string
	BaseURL   string
	Method    string
	CreatedAt time.Time
	cancel    context.CancelFunc
}

// Relay services the network requests of exactly one session. It is
// created at mount, bound to that mount's nonce, and closed on unmount or
// remount; tickets never outlive their session.
type Relay struct {
	token   nonce.Token
	client  gateway.Requester
	deliver func(payload protocol.NetworkResponsePayload)
	timeout time.Duration
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	tickets map[string]*Ticket
	closed  bool
}

// New creates a relay for one session. deliver is always invoked from a
// relay goroutine, never synchronously from Handle, so the lifecycle
// manager may block in it to route the payload back onto its event loop,
// where it is discarded if the session has since been superseded.
func New(token nonce.Token, client gateway.Requester, timeout time.Duration,
	deliver func(payload protocol.NetworkResponsePayload), log *logging.Logger) *Relay {
	return &Relay{
		token:   token,
		client:  client,
		deliver: deliver,
		timeout: timeout,
		log:     log.Named("relay"),
		tickets: make(map[string]*Ticket),
	}
}

// WithMetrics adds metrics tracking to the relay.
func (r *Relay) WithMetrics(m *monitoring.Metrics) *Relay {
	r.metrics = m
	return r
}

// Nonce returns the session nonce this relay is scoped to.
func (r *Relay) Nonce() nonce.Token {
	return r.token
}

// Outstanding returns the number of unresolved tickets.
func (r *Relay) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

// Handle accepts one NETWORK_REQUEST payload. Duplicate request ids are
// rejected immediately with an error response naming the original ticket;
// the original proceeds untouched.
func (r *Relay) Handle(p protocol.NetworkRequestPayload) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		go r.deliver(destroyedResponse(p.RequestID))
		return
	}
	if orig, dup := r.tickets[p.RequestID]; dup {
		r.mu.Unlock()
		r.log.Warn("duplicate request id rejected",
			zap.String("request_id", p.RequestID))
		if r.metrics != nil {
			r.metrics.RelayDuplicateTotal.Inc()
			r.metrics.RelayTicketsTotal.WithLabelValues("duplicate").Inc()
		}
		go r.deliver(protocol.SyntheticFailure(p.RequestID,
			fmt.Sprintf("duplicate request id: a request with this id has been outstanding since %s",
				orig.CreatedAt.Format(time.RFC3339))))
		return
	}

	timeout := r.timeout
	if p.TimeoutMs > 0 {
		if requested := time.Duration(p.TimeoutMs) * time.Millisecond; requested < timeout {
			timeout = requested
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ticket := &Ticket{
		RequestID: p.RequestID,
		BaseURL:   p.BaseURL,
		Method:    p.Method,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	r.tickets[p.RequestID] = ticket
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RelayInFlight.Inc()
	}

	go r.serve(ctx, ticket, p)
}

// serve forwards one ticket upstream. Whatever happens, the context sees
// a well-formed response shape, never a raw error.
func (r *Relay) serve(ctx context.Context, ticket *Ticket, p protocol.NetworkRequestPayload) {
	defer ticket.cancel()

	resp, err := r.client.Do(ctx, gateway.RequestSpec{
		BaseURL: p.BaseURL,
		Path:    p.Path,
		Method:  p.Method,
		Headers: p.Headers,
		Body:    p.Body,
	})

	var payload protocol.NetworkResponsePayload
	outcome := "success"
	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		payload = protocol.SyntheticFailure(p.RequestID, "upstream request timed out")
		outcome = "timeout"
	case err != nil:
		payload = protocol.SyntheticFailure(p.RequestID, "upstream request failed")
		outcome = "transport_error"
	default:
		payload = protocol.NetworkResponsePayload{
			RequestID:  p.RequestID,
			Status:     resp.Status,
			StatusText: resp.StatusText,
			Headers:    resp.Headers,
			Body:       resp.Body,
			OK:         resp.Status >= http.StatusOK && resp.Status < http.StatusMultipleChoices,
		}
	}

	r.complete(ticket, payload, outcome)
}

// complete resolves a ticket if it is still outstanding. Tickets already
// resolved en masse by Close drop their late results here.
func (r *Relay) complete(ticket *Ticket, payload protocol.NetworkResponsePayload, outcome string) {
	r.mu.Lock()
	current, ok := r.tickets[ticket.RequestID]
	if !ok || current != ticket {
		r.mu.Unlock()
		r.log.Debug("dropping response for resolved ticket",
			zap.String("request_id", ticket.RequestID))
		return
	}
	delete(r.tickets, ticket.RequestID)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RelayInFlight.Dec()
		r.metrics.RelayTicketsTotal.WithLabelValues(outcome).Inc()
		r.metrics.RelayDuration.Observe(time.Since(ticket.CreatedAt).Seconds())
	}

	r.deliver(payload)
}

// Close cancels every outstanding ticket and rejects all further
// requests. The destroyed failures are returned rather than delivered:
// the caller posts them into the context before tearing it down, and
// gateway results arriving after this point find no ticket and are
// dropped.
func (r *Relay) Close() []protocol.NetworkResponsePayload {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pending := make([]*Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		pending = append(pending, t)
	}
	r.tickets = make(map[string]*Ticket)
	r.mu.Unlock()

	failures := make([]protocol.NetworkResponsePayload, 0, len(pending))
	for _, t := range pending {
		t.cancel()
		if r.metrics != nil {
			r.metrics.RelayInFlight.Dec()
			r.metrics.RelayTicketsTotal.WithLabelValues("destroyed").Inc()
		}
		failures = append(failures, destroyedResponse(t.RequestID))
	}

	if len(pending) > 0 {
		r.log.Info("resolved outstanding tickets on teardown",
			zap.Int("count", len(pending)))
	}
	return failures
}

func destroyedResponse(requestID string) protocol.NetworkResponsePayload {
	return protocol.SyntheticFailure(requestID, "execution context destroyed")
}
