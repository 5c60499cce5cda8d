package server

// contextKey is a custom type for context keys to avoid collisions
// with keys set by other packages.
type contextKey string

const (
	// requestIDKey stores the per-HTTP-request correlation id (not to
	// be confused with a gateway Request's own id).
	requestIDKey contextKey = "http_request_id"

	// startTimeKey stores the request start time for latency logging.
	startTimeKey contextKey = "start_time"
)
