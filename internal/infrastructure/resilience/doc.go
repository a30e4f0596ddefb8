// Package resilience provides a circuit breaker for calls to the
// authenticated upstream API. The sandboxed code never sees breaker
// errors directly; the relay folds them into the synthetic failure
// response shape.
package resilience
