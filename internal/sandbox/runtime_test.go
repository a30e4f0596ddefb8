package sandbox

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeui/renderhost/internal/bundle"
	"github.com/forgeui/renderhost/internal/host/document"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/shared/nonce"
)

func loadScript(t *testing.T, cfg Config, script string) (*Runtime, *document.Document) {
	t.Helper()
	b, err := bundle.New([]byte(script), "test bundle")
	require.NoError(t, err)

	doc, err := document.Build(b, nonce.MustNew(), protocol.InitPayload{Theme: protocol.ThemeDark})
	require.NoError(t, err)

	r := New(cfg, logging.NewNop())
	require.NoError(t, r.Load(doc))
	t.Cleanup(r.Destroy)
	return r, doc
}

func recv(t *testing.T, r *Runtime) protocol.Message {
	t.Helper()
	select {
	case msg := <-r.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for context message")
		return protocol.Message{}
	}
}

func TestBootPostsReady(t *testing.T) {
	r, doc := loadScript(t, DefaultConfig(), `
host.postMessage({
  type: "READY",
  nonce: host.nonce,
  payload: { nonce: host.nonce, version: "1.0" }
});
`)

	msg := recv(t, r)
	assert.Equal(t, protocol.TypeReady, msg.Type)
	assert.True(t, msg.Nonce.Equal(doc.Nonce))

	var p protocol.ReadyPayload
	require.NoError(t, sonic.Unmarshal(msg.Payload, &p))
	assert.True(t, p.Nonce.Equal(doc.Nonce))
}

func TestBootFailureEmitsFatalError(t *testing.T) {
	r, doc := loadScript(t, DefaultConfig(), `throw new Error("bad bundle");`)

	msg := recv(t, r)
	require.Equal(t, protocol.TypeError, msg.Type)
	assert.True(t, msg.Nonce.Equal(doc.Nonce))

	var p protocol.ErrorPayload
	require.NoError(t, sonic.Unmarshal(msg.Payload, &p))
	assert.True(t, p.IsFatal)
	assert.Contains(t, p.Message, "bundle boot failed")
}

func TestBootTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BootTimeout = 100 * time.Millisecond

	r, _ := loadScript(t, cfg, `while (true) {}`)

	msg := recv(t, r)
	require.Equal(t, protocol.TypeError, msg.Type)

	var p protocol.ErrorPayload
	require.NoError(t, sonic.Unmarshal(msg.Payload, &p))
	assert.True(t, p.IsFatal)
}

func TestHandlerDispatch(t *testing.T) {
	r, doc := loadScript(t, DefaultConfig(), `
host.onMessage(function(msg) {
  if (msg.type === "THEME_CHANGE") {
    host.postMessage({
      type: "ERROR",
      nonce: host.nonce,
      payload: { message: "theme is now " + JSON.parse(JSON.stringify(msg.payload)).theme, isFatal: false }
    });
  }
});
host.postMessage({ type: "READY", nonce: host.nonce, payload: { nonce: host.nonce } });
`)

	require.Equal(t, protocol.TypeReady, recv(t, r).Type)

	themeMsg, err := protocol.NewThemeChange(doc.Nonce, protocol.ThemeLight)
	require.NoError(t, err)
	require.NoError(t, r.Post(themeMsg))

	msg := recv(t, r)
	require.Equal(t, protocol.TypeError, msg.Type)

	var p protocol.ErrorPayload
	require.NoError(t, sonic.Unmarshal(msg.Payload, &p))
	assert.False(t, p.IsFatal)
	assert.Contains(t, p.Message, "light")
}

func TestThrowingHandlerIsFatal(t *testing.T) {
	r, doc := loadScript(t, DefaultConfig(), `
host.onMessage(function(msg) { throw new Error("handler exploded"); });
host.postMessage({ type: "READY", nonce: host.nonce, payload: { nonce: host.nonce } });
`)

	require.Equal(t, protocol.TypeReady, recv(t, r).Type)

	init, err := protocol.NewInit(doc.Nonce, protocol.ThemeDark, protocol.ContainerSize{})
	require.NoError(t, err)
	require.NoError(t, r.Post(init))

	msg := recv(t, r)
	require.Equal(t, protocol.TypeError, msg.Type)

	var p protocol.ErrorPayload
	require.NoError(t, sonic.Unmarshal(msg.Payload, &p))
	assert.True(t, p.IsFatal)
	assert.Contains(t, p.Message, "message handler failed")
}

func TestConsoleCapture(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableConsole = true

	r, _ := loadScript(t, cfg, `
console.log("booting", 42);
console.error("oh no");
host.postMessage({ type: "READY", nonce: host.nonce, payload: { nonce: host.nonce } });
`)

	recv(t, r)

	entries := r.Console()
	require.Len(t, entries, 2)
	assert.Equal(t, "log", entries[0].Level)
	assert.Equal(t, "booting 42", entries[0].Message)
	assert.Equal(t, "error", entries[1].Level)
}

func TestDangerousGlobalsRemoved(t *testing.T) {
	r, _ := loadScript(t, DefaultConfig(), `
host.postMessage({
  type: "ERROR",
  nonce: host.nonce,
  payload: {
    message: "require=" + typeof require + " process=" + typeof process,
    isFatal: false
  }
});
`)

	msg := recv(t, r)
	var p protocol.ErrorPayload
	require.NoError(t, sonic.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "require=undefined process=undefined", p.Message)
}

func TestMalformedPostIsDropped(t *testing.T) {
	r, _ := loadScript(t, DefaultConfig(), `
host.postMessage("just a string");
host.postMessage({ type: "READY", nonce: host.nonce, payload: { nonce: host.nonce } });
`)

	// Only the well-formed message arrives.
	msg := recv(t, r)
	assert.Equal(t, protocol.TypeReady, msg.Type)
}

func TestLoadTwiceFails(t *testing.T) {
	r, doc := loadScript(t, DefaultConfig(), `
host.postMessage({ type: "READY", nonce: host.nonce, payload: { nonce: host.nonce } });
`)
	recv(t, r)

	assert.ErrorIs(t, r.Load(doc), ErrAlreadyLoaded)
}

func TestPostAfterDestroy(t *testing.T) {
	r, doc := loadScript(t, DefaultConfig(), `
host.postMessage({ type: "READY", nonce: host.nonce, payload: { nonce: host.nonce } });
`)
	recv(t, r)
	r.Destroy()

	init, err := protocol.NewInit(doc.Nonce, protocol.ThemeDark, protocol.ContainerSize{})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Post(init), ErrDestroyed)
}
