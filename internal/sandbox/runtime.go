package sandbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/forgeui/renderhost/internal/host/document"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

var (
	ErrAlreadyLoaded = errors.New("context already loaded")
	ErrDestroyed     = errors.New("context destroyed")
)

const channelDepth = 64

// Runtime is a goja-backed execution context. The VM lives entirely on
// the context goroutine; the host touches it only through channels.
type Runtime struct {
	cfg Config
	log *logging.Logger

	out  chan protocol.Message
	in   chan protocol.Message
	done chan struct{}

	loadOnce    sync.Once
	destroyOnce sync.Once

	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates an unloaded execution context.
func New(cfg Config, log *logging.Logger) *Runtime {
	return &Runtime{
		cfg:  cfg,
		log:  log.Named("sandbox"),
		out:  make(chan protocol.Message, channelDepth),
		in:   make(chan protocol.Message, channelDepth),
		done: make(chan struct{}),
	}
}

// Load boots the document's bundle on a fresh goroutine.
func (r *Runtime) Load(doc *document.Document) error {
	loaded := false
	r.loadOnce.Do(func() {
		loaded = true
		go r.run(doc)
	})
	if !loaded {
		return ErrAlreadyLoaded
	}
	return nil
}

// Messages returns the context-to-host channel.
func (r *Runtime) Messages() <-chan protocol.Message {
	return r.out
}

// Post queues a host-to-context message.
func (r *Runtime) Post(msg protocol.Message) error {
	select {
	case <-r.done:
		return ErrDestroyed
	default:
	}
	select {
	case <-r.done:
		return ErrDestroyed
	case r.in <- msg:
		return nil
	}
}

// Console returns captured console output so far.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	out := make([]LogEntry, len(r.console))
	copy(out, r.console)
	return out
}

// Destroy tears the context down. Idempotent; a running script is
// interrupted at its next safepoint via the boot/handler timers, and the
// message loop exits immediately.
func (r *Runtime) Destroy() {
	r.destroyOnce.Do(func() {
		close(r.done)
	})
}

// run owns the VM for the context's whole life: boot, then the inbound
// message loop. Nothing thrown inside the VM escapes this goroutine.
func (r *Runtime) run(doc *document.Document) {
	defer close(r.out)
	defer func() {
		if rec := recover(); rec != nil {
			r.emitFatal(doc.Nonce, fmt.Sprintf("context panic: %v", rec))
		}
	}()

	vm := goja.New()
	if r.cfg.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(r.cfg.MaxCallStack)
	}

	handler := r.setupGlobals(vm, doc)

	if err := r.runBounded(vm, r.cfg.BootTimeout, func() error {
		_, err := vm.RunString(doc.Script)
		return err
	}); err != nil {
		r.emitFatal(doc.Nonce, fmt.Sprintf("bundle boot failed: %v", err))
		return
	}

	for {
		select {
		case <-r.done:
			return
		case msg := <-r.in:
			r.dispatch(vm, handler, doc.Nonce, msg)
		}
	}
}

// setupGlobals configures the VM's global surface: dangerous globals
// removed, timers no-oped, console captured, and the host channel object
// installed. Returns the slot the bundle registers its message handler in.
func (r *Runtime) setupGlobals(vm *goja.Runtime, doc *document.Document) *goja.Callable {
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })

	if r.cfg.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info"} {
			console.Set(level, r.makeConsoleFunc(level))
		}
		vm.Set("console", console)
	}

	var handler goja.Callable

	host := vm.NewObject()
	host.Set("nonce", doc.Nonce.String())
	host.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		r.post(call.Arguments[0].Export())
		return goja.Undefined()
	})
	host.Set("onMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			if fn, ok := goja.AssertFunction(call.Arguments[0]); ok {
				handler = fn
			}
		}
		return goja.Undefined()
	})
	vm.Set("host", host)

	return &handler
}

// post converts a JS value from host.postMessage into a wire message and
// emits it. Values that do not decode into the envelope shape are dropped
// with a log line; the bundle gets no feedback channel for probing.
func (r *Runtime) post(v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		r.log.Debug("dropping unmarshalable context message", zap.Error(err))
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		r.log.Debug("dropping malformed context message", zap.Error(err))
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	r.emit(msg)
}

// dispatch runs the bundle's registered handler for one inbound message.
// A throwing handler is a fatal runtime fault.
func (r *Runtime) dispatch(vm *goja.Runtime, handler *goja.Callable, token nonce.Token, msg protocol.Message) {
	if *handler == nil {
		r.log.Debug("context has no message handler registered",
			zap.String("type", string(msg.Type)))
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	var exported map[string]any
	if err := sonic.Unmarshal(data, &exported); err != nil {
		return
	}

	err = r.runBounded(vm, r.cfg.HandlerTimeout, func() error {
		_, err := (*handler)(goja.Undefined(), vm.ToValue(exported))
		return err
	})
	if err != nil {
		r.emitFatal(token, fmt.Sprintf("message handler failed: %v", err))
	}
}

// runBounded executes fn with an interrupt timer so no script run can
// exceed its deadline.
func (r *Runtime) runBounded(vm *goja.Runtime, timeout time.Duration, fn func() error) (err error) {
	if timeout > 0 {
		defer vm.ClearInterrupt()
		timer := time.AfterFunc(timeout, func() {
			vm.Interrupt("execution deadline exceeded")
		})
		defer timer.Stop()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("script panic: %v", rec)
		}
	}()
	return fn()
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		r.consoleMu.Unlock()
		return goja.Undefined()
	}
}

// emitFatal reports a fault the bundle could not report itself (boot
// failure, handler throw, panic) as a fatal ERROR message under the
// context's own nonce.
func (r *Runtime) emitFatal(token nonce.Token, message string) {
	payload, err := sonic.Marshal(protocol.ErrorPayload{Message: message, IsFatal: true})
	if err != nil {
		return
	}
	r.emit(protocol.Message{
		Type:      protocol.TypeError,
		Payload:   payload,
		Nonce:     token,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (r *Runtime) emit(msg protocol.Message) {
	select {
	case r.out <- msg:
	case <-r.done:
	default:
		// A context flooding its channel loses messages rather than
		// blocking the VM goroutine.
		r.log.Warn("context message channel full, dropping",
			zap.String("type", string(msg.Type)))
	}
}
