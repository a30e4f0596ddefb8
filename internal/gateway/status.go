package gateway

// ConnectionStatus is the externally visible state of one upstream API
// connection. The host only ever reads it; the gateway owns transitions.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDegraded     ConnectionStatus = "degraded"
	StatusExpired      ConnectionStatus = "expired"
	StatusUnreachable  ConnectionStatus = "unreachable"
)

// ConnectionView is a read-only projection of one upstream connection.
type ConnectionView struct {
	BaseURL string           `json:"baseUrl"`
	Status  ConnectionStatus `json:"status"`
}

// StatusSource is consumed by the overlay controller: a pure read plus a
// change subscription, no side effects.
type StatusSource interface {
	Status(baseURL string) ConnectionStatus
	Subscribe(fn func(ConnectionView))
}
