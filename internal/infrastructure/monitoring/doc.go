// Package monitoring exposes Prometheus metrics for the execution host:
// mounts and handshakes, message boundary rejections, relay ticket
// throughput, recovery outcomes, and overlay transitions.
package monitoring
