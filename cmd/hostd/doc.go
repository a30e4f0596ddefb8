// Package main is the entry point for the sandboxed execution host.
//
// The host runs untrusted generated UI bundles inside an isolated
// execution context and mediates everything the code can reach: the
// trusted shell talks to the host over REST and a WebSocket event
// stream, and the sandboxed code talks only over a nonce-authenticated
// message channel.
//
// Architecture:
//
//	Shell (trusted) → Host → Execution context (untrusted bundle)
//	                       → Upstream API gateway (authenticated relay)
//
// The server provides:
//   - REST API for mounting, remounting and unmounting bundles
//   - WebSocket streaming of session lifecycle events
//   - Authenticated network relay for sandboxed code
//   - Prometheus metrics
//
// Configuration:
//   - TOML config file (optional, -config)
//   - Environment variables override the file
//   - CLI flags override both
//
// Usage:
//
//	# Production mode
//	./hostd -port 8090 -upstream http://localhost:8000
//
//	# Development mode (colored logs, debug level)
//	./hostd -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
