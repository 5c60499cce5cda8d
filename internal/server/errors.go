package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mercator-hq/gateway/internal/gwerr"
)

// errorBody is the gateway's REST error shape: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

// statusFor classifies err into the HTTP status spec.md §6/§7
// assigns it: 400 for a client error (unknown provider, malformed
// input), 404 for an unknown entity, 503 for a full
// queue, 500 for anything else.
func statusFor(err error) int {
	var nf *gwerr.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	if errors.Is(err, gwerr.ErrQueueFull) {
		return http.StatusServiceUnavailable
	}
	var ve *gwerr.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	if errors.Is(err, gwerr.ErrClientError) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError writes the {detail} error body at the status err
// classifies to, logging server-side failures that clients only see
// as "internal error occurred".
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("unhandled request error",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		detail = "an internal error occurred"
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response body", "error", err)
	}
}
