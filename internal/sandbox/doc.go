// Package sandbox runs generated UI bundles inside an isolated goja
// runtime.
//
// The VM has no ambient capabilities: require, process, and timers are
// removed, console output is captured, and every script run is bounded
// by an interrupt deadline. The bundle's only channel to the outside is
// the host object (host.postMessage / host.onMessage), which speaks the
// protocol package's message envelope. Each Runtime is single-use: one
// document, one goroutine, destroyed on unmount or remount.
package sandbox
