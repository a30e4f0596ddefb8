package protocol

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"

	"github.com/forgeui/renderhost/internal/shared/nonce"
)

// Type discriminates the message union.
type Type string

// Inbound types (execution context to host).
const (
	TypeReady          Type = "READY"
	TypeError          Type = "ERROR"
	TypeNetworkRequest Type = "NETWORK_REQUEST"
)

// Outbound types (host to execution context).
const (
	TypeInit            Type = "INIT"
	TypeThemeChange     Type = "THEME_CHANGE"
	TypeNetworkResponse Type = "NETWORK_RESPONSE"
)

// Theme is the rendering theme handed to the context.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Message is the envelope for everything crossing the context boundary.
// The nonce scopes the message to one mount; the payload is opaque until
// validated against the type discriminant.
type Message struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     nonce.Token     `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
}

// ReadyPayload confirms the context booted. The payload repeats the nonce
// as a second confirmation against handshake replay.
type ReadyPayload struct {
	Nonce   nonce.Token `json:"nonce"`
	Version string      `json:"version,omitempty"`
}

// ErrorPayload reports a runtime fault in the generated code.
type ErrorPayload struct {
	Message string `json:"message"`
	IsFatal bool   `json:"isFatal"`
}

// NetworkRequestPayload is an outbound API call attempt.
type NetworkRequestPayload struct {
	RequestID string            `json:"requestId"`
	BaseURL   string            `json:"baseUrl"`
	Path      string            `json:"path"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	TimeoutMs int64             `json:"timeout,omitempty"`
}

// ContainerSize describes the render area given to the context at boot.
type ContainerSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InitPayload is the initial configuration sent after mount.
type InitPayload struct {
	Theme     Theme         `json:"theme"`
	Container ContainerSize `json:"container"`
}

// ThemeChangePayload switches the context's theme.
type ThemeChangePayload struct {
	Theme Theme `json:"theme"`
}

// NetworkResponsePayload answers a NETWORK_REQUEST, correlated by request
// id. Transport failures use the synthetic shape: status 0, ok false, an
// explanatory status text, empty headers and body. The context never sees
// a raw host error.
type NetworkResponsePayload struct {
	RequestID  string            `json:"requestId"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
}

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	return sonic.Marshal(msg)
}

// Decode parses a wire message envelope. The payload stays raw until
// validated by ParseInbound.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func envelope(t Type, token nonce.Token, payload any) (Message, error) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:      t,
		Payload:   raw,
		Nonce:     token,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewInit builds the INIT message for a freshly mounted context.
func NewInit(token nonce.Token, theme Theme, container ContainerSize) (Message, error) {
	return envelope(TypeInit, token, InitPayload{Theme: theme, Container: container})
}

// NewThemeChange builds a THEME_CHANGE message.
func NewThemeChange(token nonce.Token, theme Theme) (Message, error) {
	return envelope(TypeThemeChange, token, ThemeChangePayload{Theme: theme})
}

// NewNetworkResponse builds a NETWORK_RESPONSE message.
func NewNetworkResponse(token nonce.Token, payload NetworkResponsePayload) (Message, error) {
	return envelope(TypeNetworkResponse, token, payload)
}

// SyntheticFailure is the well-formed failure shape delivered in place of
// any transport-level error.
func SyntheticFailure(requestID, statusText string) NetworkResponsePayload {
	return NetworkResponsePayload{
		RequestID:  requestID,
		Status:     0,
		StatusText: statusText,
		Headers:    map[string]string{},
		Body:       "",
		OK:         false,
		Error:      statusText,
	}
}
