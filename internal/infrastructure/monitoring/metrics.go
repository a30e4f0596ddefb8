package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the host.
type Metrics struct {
	// Lifecycle metrics
	MountsTotal       *prometheus.CounterVec // labeled by kind: mount|remount
	HandshakeDuration prometheus.Histogram
	HandshakeFailures *prometheus.CounterVec // labeled by reason
	SessionState      *prometheus.GaugeVec   // labeled by state, 0/1

	// Message boundary metrics
	MessagesTotal      *prometheus.CounterVec // labeled by type
	NonceRejectsTotal  prometheus.Counter
	MalformedTotal     prometheus.Counter
	UnknownTypesTotal  prometheus.Counter
	RuntimeFaultsTotal *prometheus.CounterVec // labeled by severity

	// Relay metrics
	RelayTicketsTotal   *prometheus.CounterVec // labeled by outcome
	RelayInFlight       prometheus.Gauge
	RelayDuration       prometheus.Histogram
	RelayDuplicateTotal prometheus.Counter

	// Recovery metrics
	RecoveriesTotal *prometheus.CounterVec // labeled by outcome

	// Overlay metrics
	OverlayState *prometheus.GaugeVec // labeled by state, 0/1

	// Shell metrics
	WSConnections prometheus.Gauge
	WSEvents      *prometheus.CounterVec // labeled by type

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector registered on the default
// registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a collector on a private registry.
// Tests use this to avoid duplicate registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		MountsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_mounts_total",
				Help: "Total execution context mounts",
			},
			[]string{"kind"},
		),
		HandshakeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "host_handshake_duration_seconds",
				Help:    "Time from mount to validated READY",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		HandshakeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_handshake_failures_total",
				Help: "Handshake failures by reason",
			},
			[]string{"reason"},
		),
		SessionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "host_session_state",
				Help: "Current session state (1 for active state, 0 otherwise)",
			},
			[]string{"state"},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_inbound_messages_total",
				Help: "Inbound messages accepted from the execution context",
			},
			[]string{"type"},
		),
		NonceRejectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_nonce_rejects_total",
				Help: "Messages discarded for carrying a stale or wrong nonce",
			},
		),
		MalformedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_malformed_messages_total",
				Help: "Messages rejected at the boundary as malformed",
			},
		),
		UnknownTypesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_unknown_message_types_total",
				Help: "Messages with an unrecognized type, ignored",
			},
		),
		RuntimeFaultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_runtime_faults_total",
				Help: "Runtime faults reported by the execution context",
			},
			[]string{"severity"},
		),

		RelayTicketsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_relay_tickets_total",
				Help: "Network request tickets by outcome",
			},
			[]string{"outcome"},
		),
		RelayInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_relay_in_flight",
				Help: "Outstanding network request tickets",
			},
		),
		RelayDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "host_relay_duration_seconds",
				Help:    "Ticket service time including upstream latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		RelayDuplicateTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_relay_duplicate_ids_total",
				Help: "Tickets rejected for reusing an outstanding request id",
			},
		),

		RecoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_recoveries_total",
				Help: "Recovery attempts after fatal faults",
			},
			[]string{"outcome"},
		),

		OverlayState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "host_overlay_state",
				Help: "Current overlay state (1 for active state, 0 otherwise)",
			},
			[]string{"state"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_ws_connections",
				Help: "Connected shell event streams",
			},
		),
		WSEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_ws_events_total",
				Help: "Events pushed to shell connections",
			},
			[]string{"type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_uptime_seconds",
				Help: "Host uptime in seconds",
			},
		),
	}
}

// SetSessionState marks exactly one lifecycle state as current.
func (m *Metrics) SetSessionState(current string) {
	for _, s := range []string{"empty", "mounting", "ready", "failed"} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// SetOverlayState marks exactly one overlay state as current.
func (m *Metrics) SetOverlayState(current string) {
	for _, s := range []string{"none", "unauthenticated_placeholder", "expired_blur"} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.OverlayState.WithLabelValues(s).Set(v)
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
