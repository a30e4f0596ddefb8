package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/bundle"
	"github.com/forgeui/renderhost/internal/gateway"
	"github.com/forgeui/renderhost/internal/host"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
)

// StatusReporter lets the outer auth collaborator report connection
// status changes (connecting during an OAuth flow, connected after it).
type StatusReporter interface {
	SetStatus(baseURL string, status gateway.ConnectionStatus)
}

// Handlers serves the trusted shell's HTTP API.
type Handlers struct {
	host     *host.Host
	reporter StatusReporter
	log      *logging.Logger
}

// NewHandlers creates the shell API handlers.
func NewHandlers(h *host.Host, reporter StatusReporter, log *logging.Logger) *Handlers {
	return &Handlers{host: h, reporter: reporter, log: log.Named("api")}
}

type mountRequest struct {
	Source string `json:"source" binding:"required"`
	Title  string `json:"title"`
	Theme  string `json:"theme"`
}

// Mount handles POST /session: validates a bundle and mounts it.
func (h *Handlers) Mount(c *gin.Context) {
	var req mountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := bundle.New([]byte(req.Source), req.Title)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, bundle.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.host.Mount(b, parseTheme(req.Theme))
	if err != nil {
		h.log.Error("mount failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"bundleId": b.ID().String(),
		"snapshot": snap,
	})
}

// Remount handles POST /session/remount: same bundle, fresh nonce.
func (h *Handlers) Remount(c *gin.Context) {
	snap, err := h.host.Remount()
	if err != nil {
		if errors.Is(err, host.ErrNoSession) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap})
}

// Unmount handles DELETE /session.
func (h *Handlers) Unmount(c *gin.Context) {
	if err := h.host.Unmount(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unmounted"})
}

type themeRequest struct {
	Theme string `json:"theme" binding:"required"`
}

// SetTheme handles POST /session/theme.
func (h *Handlers) SetTheme(c *gin.Context) {
	var req themeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.host.SetTheme(parseTheme(req.Theme)); err != nil {
		if errors.Is(err, host.ErrNoSession) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /session.
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.host.Status())
}

// Document handles GET /session/document: the rendered host page the
// shell embeds.
func (h *Handlers) Document(c *gin.Context) {
	html, err := h.host.Document()
	if err != nil {
		if errors.Is(err, host.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

type connectionStatusRequest struct {
	BaseURL string `json:"baseUrl" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

var validStatuses = map[gateway.ConnectionStatus]bool{
	gateway.StatusDisconnected: true,
	gateway.StatusConnecting:   true,
	gateway.StatusConnected:    true,
	gateway.StatusDegraded:     true,
	gateway.StatusExpired:      true,
	gateway.StatusUnreachable:  true,
}

// ReportConnection handles POST /connection/status, the entry point for
// the outer auth collaborator.
func (h *Handlers) ReportConnection(c *gin.Context) {
	var req connectionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := gateway.ConnectionStatus(req.Status)
	if !validStatuses[status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown connection status"})
		return
	}

	h.reporter.SetStatus(req.BaseURL, status)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func parseTheme(s string) protocol.Theme {
	if s == string(protocol.ThemeLight) {
		return protocol.ThemeLight
	}
	return protocol.ThemeDark
}
