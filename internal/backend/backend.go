// Package backend implements the gateway's Backend Abstraction
// (component C): a uniform execute/health_check/shutdown contract
// over HTTP and CLI (subprocess) providers.
package backend

import "context"

// Result is the outcome of one Execute call. Success drives the
// queue's terminal transition; everything else (Class, error text) is
// advisory diagnostic metadata.
type Result struct {
	Success    bool
	Response   string
	Thinking   string
	RawOutput  string
	Error      string
	Class      string // one of the gwerr.Class* constants, set only on failure
	LatencyMs  float64
	TokensUsed *int
	Metadata   map[string]any
}

// Backend is any object capable of executing a gateway request
// against a configured AI provider (spec.md §4.C). Execute never
// returns a Go error for ordinary failures — those are reported as
// Result{Success: false, ...} so the queue's only branch point is the
// Success bit, as spec.md prescribes.
type Backend interface {
	// Execute runs one request to completion or until ctx is done,
	// whichever comes first. ctx carries the caller's hard timeout.
	Execute(ctx context.Context, message string) Result

	// HealthCheck is a cheap liveness probe, independent of Execute.
	HealthCheck(ctx context.Context) bool

	// Shutdown releases any held resources (connections, child
	// processes). Idempotent.
	Shutdown(ctx context.Context) error
}
