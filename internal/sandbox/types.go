package sandbox

import (
	"time"

	"github.com/forgeui/renderhost/internal/host/document"
	"github.com/forgeui/renderhost/internal/protocol"
)

// Config defines execution context limits.
type Config struct {
	BootTimeout    time.Duration // bound on running the bundle's top-level script
	HandlerTimeout time.Duration // bound on each inbound message handler run
	MaxCallStack   int           // goja call stack depth limit
	EnableConsole  bool          // capture console.log/warn/error/info
}

// DefaultConfig returns the standard context limits.
func DefaultConfig() Config {
	return Config{
		BootTimeout:    10 * time.Second,
		HandlerTimeout: 5 * time.Second,
		MaxCallStack:   1024,
		EnableConsole:  true,
	}
}

// LogEntry is one captured console line.
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// Context is the host's handle on one isolated execution context. The
// context runs on its own goroutine; its only interaction with the host
// is the structured message channel.
type Context interface {
	// Load boots the document's bundle. Messages the context emits,
	// including its READY or a fatal boot ERROR, appear on Messages.
	Load(doc *document.Document) error
	// Messages is the context-to-host channel. Closed on Destroy.
	Messages() <-chan protocol.Message
	// Post delivers a host-to-context message. Delivery order is FIFO
	// relative to this context.
	Post(msg protocol.Message) error
	// Console returns captured console output so far.
	Console() []LogEntry
	// Destroy tears the context down. Idempotent.
	Destroy()
}
