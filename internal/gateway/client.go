package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forgeui/renderhost/internal/infrastructure/config"
	"github.com/forgeui/renderhost/internal/infrastructure/resilience"
	"github.com/forgeui/renderhost/internal/logging"
)

// RequestSpec describes one authenticated request relayed on behalf of
// the sandboxed code.
type RequestSpec struct {
	BaseURL string
	Path    string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// Response is the structured result of an authenticated request. Transport
// failures are returned as errors, never as a Response; the relay converts
// them into the synthetic failure shape.
type Response struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       string
}

// Requester is the interface the relay consumes.
type Requester interface {
	Do(ctx context.Context, spec RequestSpec) (*Response, error)
}

// Client performs authenticated upstream requests with retry, rate
// limiting, and a circuit breaker, and derives per-base connection status
// from what it observes.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *logging.Logger

	mu     sync.RWMutex
	status map[string]ConnectionStatus
	subs   []func(ConnectionView)
}

// NewClient creates a production-ready gateway client.
func NewClient(cfg config.GatewayConfig, log *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(15 * time.Second).
		SetHeader("User-Agent", "renderhost-gateway/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New("gateway-upstream", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: breaker,
		log:     log.Named("gateway"),
		status:  make(map[string]ConnectionStatus),
	}
}

// Do executes one authenticated request. Credential injection happens in
// the transport configured by the outer auth collaborator; the gateway
// only relays and observes.
func (c *Client) Do(ctx context.Context, spec RequestSpec) (*Response, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var resp *Response
	err := c.breaker.Execute(func() error {
		req := c.resty.R().SetContext(ctx).SetHeaders(spec.Headers)
		if spec.Body != "" {
			req.SetBody(spec.Body)
		}

		url := strings.TrimSuffix(spec.BaseURL, "/") + spec.Path
		r, err := req.Execute(spec.Method, url)
		if err != nil {
			return err
		}

		headers := make(map[string]string, len(r.Header()))
		for k, v := range r.Header() {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}

		resp = &Response{
			Status:     r.StatusCode(),
			StatusText: http.StatusText(r.StatusCode()),
			Headers:    headers,
			Body:       string(r.Body()),
		}
		return nil
	})

	if err != nil {
		c.log.Warn("upstream request failed",
			zap.String("base_url", spec.BaseURL),
			zap.String("method", spec.Method),
			zap.Error(err))
		c.setStatus(spec.BaseURL, StatusUnreachable)
		return nil, err
	}

	c.setStatus(spec.BaseURL, statusFromCode(resp.Status))
	return resp, nil
}

func statusFromCode(code int) ConnectionStatus {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return StatusExpired
	case code >= 500:
		return StatusDegraded
	default:
		return StatusConnected
	}
}

// Status returns the current status of baseURL, disconnected if never seen.
func (c *Client) Status(baseURL string) ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.status[baseURL]; ok {
		return s
	}
	return StatusDisconnected
}

// SetStatus lets the outer auth collaborator report a status directly,
// e.g. connecting while an OAuth flow runs or connected after re-auth.
func (c *Client) SetStatus(baseURL string, status ConnectionStatus) {
	c.setStatus(baseURL, status)
}

// Subscribe registers fn for every status change. Callbacks run on the
// goroutine that observed the change and must not block.
func (c *Client) Subscribe(fn func(ConnectionView)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Client) setStatus(baseURL string, status ConnectionStatus) {
	c.mu.Lock()
	prev, ok := c.status[baseURL]
	if ok && prev == status {
		c.mu.Unlock()
		return
	}
	c.status[baseURL] = status
	subs := make([]func(ConnectionView), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	c.log.Info("connection status changed",
		zap.String("base_url", baseURL),
		zap.String("status", string(status)))

	view := ConnectionView{BaseURL: baseURL, Status: status}
	for _, fn := range subs {
		fn(view)
	}
}
