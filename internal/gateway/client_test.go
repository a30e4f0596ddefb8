package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeui/renderhost/internal/infrastructure/config"
	"github.com/forgeui/renderhost/internal/logging"
)

func testClient() *Client {
	return NewClient(config.GatewayConfig{
		Timeout:  5 * time.Second,
		RetryMax: 0,
	}, logging.NewNop())
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := testClient()
	resp, err := c.Do(context.Background(), RequestSpec{
		BaseURL: srv.URL,
		Path:    "/items",
		Method:  http.MethodGet,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "OK", resp.StatusText)
	assert.Equal(t, `{"items":[]}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.Equal(t, StatusConnected, c.Status(srv.URL))
}

func TestDoStatusDerivation(t *testing.T) {
	tests := []struct {
		name string
		code int
		want ConnectionStatus
	}{
		{"unauthorized means expired", http.StatusUnauthorized, StatusExpired},
		{"forbidden means expired", http.StatusForbidden, StatusExpired},
		{"server error means degraded", http.StatusInternalServerError, StatusDegraded},
		{"not found is still connected", http.StatusNotFound, StatusConnected},
		{"ok is connected", http.StatusOK, StatusConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			c := testClient()
			resp, err := c.Do(context.Background(), RequestSpec{
				BaseURL: srv.URL,
				Path:    "/",
				Method:  http.MethodGet,
			})
			require.NoError(t, err, "non-2xx is a response, not a transport error")
			assert.Equal(t, tt.code, resp.Status)
			assert.Equal(t, tt.want, c.Status(srv.URL))
		})
	}
}

func TestDoTransportFailure(t *testing.T) {
	c := testClient()
	// Nothing listens here.
	_, err := c.Do(context.Background(), RequestSpec{
		BaseURL: "http://127.0.0.1:1",
		Path:    "/",
		Method:  http.MethodGet,
	})
	require.Error(t, err)
	assert.Equal(t, StatusUnreachable, c.Status("http://127.0.0.1:1"))
}

func TestStatusDefaultsToDisconnected(t *testing.T) {
	c := testClient()
	assert.Equal(t, StatusDisconnected, c.Status("http://never-seen.example"))
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	c := testClient()

	var (
		mu    sync.Mutex
		views []ConnectionView
	)
	c.Subscribe(func(v ConnectionView) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})

	c.SetStatus("http://api", StatusConnecting)
	c.SetStatus("http://api", StatusConnecting) // duplicate, no notification
	c.SetStatus("http://api", StatusConnected)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 2)
	assert.Equal(t, StatusConnecting, views[0].Status)
	assert.Equal(t, StatusConnected, views[1].Status)
	assert.Equal(t, "http://api", views[0].BaseURL)
}

func TestDoHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := testClient()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, RequestSpec{
		BaseURL: srv.URL,
		Path:    "/",
		Method:  http.MethodGet,
	})
	assert.Error(t, err)
}
