// Package logging provides structured logging built on zap.
//
// Production output is JSON; development output is human-readable console
// encoding with colored levels. Components take a *Logger and derive named
// children (host, relay, sandbox, gateway) so log lines identify their
// origin.
package logging
