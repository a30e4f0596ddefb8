package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/host"
	"github.com/forgeui/renderhost/internal/infrastructure/monitoring"
	"github.com/forgeui/renderhost/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Single local user; the shell connects from localhost.
		return true
	},
}

const sendDepth = 32

type client struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// Handler streams host lifecycle events to connected shells. One handler
// serves all shell connections; each connection gets its own send queue
// so a slow shell cannot stall the host's event delivery.
type Handler struct {
	host    *host.Host
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[string]*client
}

// NewHandler creates the event stream handler and subscribes it to the
// host. Subscribe is called once; broadcast fans out per connection.
func NewHandler(h *host.Host, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	handler := &Handler{
		host:    h,
		log:     log.Named("ws"),
		metrics: metrics,
		clients: make(map[string]*client),
	}
	h.Subscribe(func(ev host.Event) {
		handler.broadcast(ev)
	})
	return handler
}

// HandleConnection upgrades a shell connection and serves it until the
// peer disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan any, sendDepth),
	}

	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.log.Info("shell connected", zap.String("conn_id", cl.id))

	// Initial state push so a reconnecting shell resynchronizes.
	cl.send <- gin.H{"type": "snapshot", "snapshot": h.host.Status(), "timestamp": time.Now()}

	go h.writeLoop(cl)
	h.readLoop(cl)
}

func (h *Handler) readLoop(cl *client) {
	defer h.drop(cl)
	for {
		var msg map[string]any
		if err := cl.conn.ReadJSON(&msg); err != nil {
			return
		}
		if t, _ := msg["type"].(string); t == "ping" {
			select {
			case cl.send <- gin.H{"type": "pong", "timestamp": time.Now()}:
			default:
			}
		}
		// Everything else from the shell arrives over the HTTP API; the
		// stream is one-way.
	}
}

func (h *Handler) writeLoop(cl *client) {
	for msg := range cl.send {
		if err := cl.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *Handler) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl.id]; ok {
		delete(h.clients, cl.id)
		close(cl.send)
	}
	h.mu.Unlock()

	cl.conn.Close()
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.log.Info("shell disconnected", zap.String("conn_id", cl.id))
}

// broadcast fans an event out to every connection. Runs on the host's
// event loop, so it never blocks: a full queue drops the event for that
// connection and the shell resyncs from its next snapshot.
func (h *Handler) broadcast(ev host.Event) {
	if h.metrics != nil {
		h.metrics.WSEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cl := range h.clients {
		select {
		case cl.send <- ev:
		default:
			h.log.Warn("event queue full, dropping event",
				zap.String("conn_id", cl.id),
				zap.String("event", string(ev.Type)))
		}
	}
}
