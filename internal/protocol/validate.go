package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

var (
	// ErrUnknownType marks a message whose type is not in the inbound union.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformedPayload marks a payload that fails validation for its type.
	ErrMalformedPayload = errors.New("malformed payload")
)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// ParseInbound validates an inbound message payload against its type
// discriminant and returns the typed payload. Payloads are never trusted
// structurally; anything that does not decode into the declared shape is
// rejected before dispatch.
func ParseInbound(msg Message) (any, error) {
	switch msg.Type {
	case TypeReady:
		var p ReadyPayload
		if err := sonic.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: READY: %v", ErrMalformedPayload, err)
		}
		if p.Nonce.IsZero() {
			return nil, fmt.Errorf("%w: READY missing nonce confirmation", ErrMalformedPayload)
		}
		return p, nil

	case TypeError:
		var p ErrorPayload
		if err := sonic.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: ERROR: %v", ErrMalformedPayload, err)
		}
		if p.Message == "" {
			return nil, fmt.Errorf("%w: ERROR missing message", ErrMalformedPayload)
		}
		return p, nil

	case TypeNetworkRequest:
		var p NetworkRequestPayload
		if err := sonic.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: NETWORK_REQUEST: %v", ErrMalformedPayload, err)
		}
		if err := validateNetworkRequest(&p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func validateNetworkRequest(p *NetworkRequestPayload) error {
	if p.RequestID == "" {
		return fmt.Errorf("%w: NETWORK_REQUEST missing requestId", ErrMalformedPayload)
	}
	if p.BaseURL == "" {
		return fmt.Errorf("%w: NETWORK_REQUEST missing baseUrl", ErrMalformedPayload)
	}
	p.Method = strings.ToUpper(p.Method)
	if !allowedMethods[p.Method] {
		return fmt.Errorf("%w: NETWORK_REQUEST method %q", ErrMalformedPayload, p.Method)
	}
	if p.Path != "" && !strings.HasPrefix(p.Path, "/") {
		p.Path = "/" + p.Path
	}
	if p.TimeoutMs < 0 {
		return fmt.Errorf("%w: NETWORK_REQUEST negative timeout", ErrMalformedPayload)
	}
	return nil
}
