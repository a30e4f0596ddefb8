package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeui/renderhost/internal/gateway"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// fakeRequester scripts upstream behavior per request id.
type fakeRequester struct {
	mu      sync.Mutex
	delay   time.Duration
	err     error
	status  int
	body    string
	release chan struct{}
}

func (f *fakeRequester) Do(ctx context.Context, spec gateway.RequestSpec) (*gateway.Response, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &gateway.Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       f.body,
	}, nil
}

type capture struct {
	mu       sync.Mutex
	payloads []protocol.NetworkResponsePayload
	notify   chan struct{}
}

func newCapture() *capture {
	return &capture{notify: make(chan struct{}, 16)}
}

func (c *capture) deliver(p protocol.NetworkResponsePayload) {
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *capture) wait(t *testing.T, n int) []protocol.NetworkResponsePayload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.payloads)
		c.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d responses, have %d", n, got)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.NetworkResponsePayload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func request(id string) protocol.NetworkRequestPayload {
	return protocol.NetworkRequestPayload{
		RequestID: id,
		BaseURL:   "http://localhost:8000",
		Path:      "/items",
		Method:    http.MethodGet,
	}
}

func TestHandleSuccess(t *testing.T) {
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{status: 200, body: `{"ok":true}`},
		time.Second, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))

	got := sink.wait(t, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, 200, got[0].Status)
	assert.True(t, got[0].OK)
	assert.Equal(t, `{"ok":true}`, got[0].Body)
	assert.Equal(t, 0, r.Outstanding())
}

func TestHandleNonOKStatus(t *testing.T) {
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{status: http.StatusUnauthorized},
		time.Second, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))

	got := sink.wait(t, 1)
	assert.Equal(t, http.StatusUnauthorized, got[0].Status)
	assert.False(t, got[0].OK, "4xx is delivered as a response with ok=false")
}

func TestHandleTransportError(t *testing.T) {
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{err: errors.New("connection refused")},
		time.Second, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))

	got := sink.wait(t, 1)
	assert.Equal(t, 0, got[0].Status)
	assert.False(t, got[0].OK)
	assert.Equal(t, "upstream request failed", got[0].StatusText)
	assert.Empty(t, got[0].Body, "raw errors never leak into the context")
}

func TestHandleTimeout(t *testing.T) {
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{delay: time.Second},
		30*time.Millisecond, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))

	got := sink.wait(t, 1)
	assert.Equal(t, 0, got[0].Status)
	assert.Equal(t, "upstream request timed out", got[0].StatusText)
}

func TestHandleDuplicateRequestID(t *testing.T) {
	release := make(chan struct{})
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{release: release},
		time.Second, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))
	r.Handle(request("req-1"))

	got := sink.wait(t, 1)
	require.False(t, got[0].OK)
	assert.Contains(t, got[0].StatusText, "duplicate request id")
	assert.Equal(t, 1, r.Outstanding(), "original ticket proceeds untouched")

	close(release)
	got = sink.wait(t, 2)
	var sawSuccess bool
	for _, p := range got {
		if p.OK {
			sawSuccess = true
		}
	}
	assert.True(t, sawSuccess, "original request still completes")
}

func TestCloseResolvesOutstanding(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{release: release},
		time.Minute, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))
	r.Handle(request("req-2"))
	r.Handle(request("req-3"))
	require.Equal(t, 3, r.Outstanding())

	failures := r.Close()
	require.Len(t, failures, 3)

	ids := map[string]bool{}
	for _, p := range failures {
		ids[p.RequestID] = true
		assert.Equal(t, 0, p.Status)
		assert.False(t, p.OK)
		assert.True(t, strings.Contains(p.StatusText, "execution context destroyed"))
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, 0, r.Outstanding())
}

func TestHandleAfterClose(t *testing.T) {
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{}, time.Second, sink.deliver, logging.NewNop())
	r.Close()

	r.Handle(request("req-9"))

	got := sink.wait(t, 1)
	assert.Contains(t, got[0].StatusText, "execution context destroyed")
}

func TestLateCompletionAfterCloseIsDropped(t *testing.T) {
	release := make(chan struct{})
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{release: release},
		time.Minute, sink.deliver, logging.NewNop())

	r.Handle(request("req-1"))
	failures := r.Close()
	require.Len(t, failures, 1)

	// Let the worker finish; its result finds no ticket.
	close(release)
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.payloads, "late gateway results must not be delivered")
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := newCapture()
	r := New(nonce.MustNew(), &fakeRequester{}, time.Second, sink.deliver, logging.NewNop())

	require.Empty(t, r.Close())
	require.Nil(t, r.Close())
}
