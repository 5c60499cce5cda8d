package server

import (
	"encoding/json"
	"net/http"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

// askRequest is the POST /api/ask body.
type askRequest struct {
	Provider string         `json:"provider"`
	Message  string         `json:"message"`
	Priority *int           `json:"priority"`
	TimeoutS *float64       `json:"timeout_s"`
	Metadata map[string]any `json:"metadata"`
}

type askResponse struct {
	RequestID string               `json:"request_id"`
	Provider  string               `json:"provider"`
	Status    model.RequestStatus  `json:"status"`
}

// handleAsk submits a prompt to the queue. provider falls back to the
// gateway's configured default_provider when omitted.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &gwerr.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if req.Message == "" {
		s.writeError(w, r, &gwerr.ValidationError{Field: "message", Message: "must not be empty"})
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	if provider == "" {
		s.writeError(w, r, &gwerr.ValidationError{Field: "provider", Message: "no provider given and no default_provider configured"})
		return
	}
	if _, _, err := s.backends.Get(provider); err != nil {
		s.writeError(w, r, err)
		return
	}

	priority := 50
	if req.Priority != nil {
		priority = *req.Priority
	}
	timeoutS := 300.0
	if req.TimeoutS != nil {
		timeoutS = *req.TimeoutS
	}

	id := store.NewRequestID()
	gwReq := model.NewRequest(id, provider, req.Message, priority, timeoutS, req.Metadata)
	if err := s.queue.Enqueue(gwReq); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.bus.Publish("request_submitted", map[string]any{
		"request_id": id, "provider": provider,
	})

	writeJSON(w, http.StatusOK, askResponse{RequestID: id, Provider: provider, Status: gwReq.Status})
}

type replyResponse struct {
	RequestID string              `json:"request_id"`
	Status    model.RequestStatus `json:"status"`
	Response  *string             `json:"response,omitempty"`
	Error     *string             `json:"error,omitempty"`
	LatencyMs *float64            `json:"latency_ms,omitempty"`
	Thinking  *string             `json:"thinking,omitempty"`
	RawOutput *string             `json:"raw_output,omitempty"`
}

// pollInterval bounds how often handleReply re-checks store state
// while honoring wait=true.
const pollInterval = 200 * time.Millisecond

// handleReply fetches a request's outcome, optionally blocking up to
// timeout seconds for it to reach a terminal state.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wait := parseBoolParam(r.URL.Query().Get("wait"))
	timeoutS := parseFloatParam(r.URL.Query().Get("timeout"), 30)

	req, err := s.store.GetRequest(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req == nil {
		s.writeError(w, r, &gwerr.NotFoundError{Kind: "request", ID: id})
		return
	}

	if wait && !req.Status.IsTerminal() {
		deadline := time.Now().Add(time.Duration(timeoutS * float64(time.Second)))
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
	waitLoop:
		for time.Now().Before(deadline) {
			select {
			case <-r.Context().Done():
				break waitLoop
			case <-ticker.C:
				req, err = s.store.GetRequest(id)
				if err != nil {
					s.writeError(w, r, err)
					return
				}
				if req == nil || req.Status.IsTerminal() {
					break waitLoop
				}
			}
		}
	}

	resp := replyResponse{RequestID: id, Status: req.Status}
	response, err := s.store.GetResponse(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if response != nil {
		resp.Response = response.Response
		resp.Error = response.Error
		latency := response.LatencyMs
		resp.LatencyMs = &latency
		resp.Thinking = response.Thinking
		resp.RawOutput = response.RawOutput
	}
	writeJSON(w, http.StatusOK, resp)
}

type cancelResponse struct {
	Success bool `json:"success"`
}

// handleCancelRequest cancels a queued or in-flight request.
func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	req, err := s.store.GetRequest(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req == nil {
		s.writeError(w, r, &gwerr.NotFoundError{Kind: "request", ID: id})
		return
	}

	found := s.queue.Cancel(id)
	if found {
		if err := s.store.UpdateRequestStatus(id, model.StatusCancelled, nil); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.bus.Publish("request_cancelled", map[string]any{"request_id": id})
	}
	writeJSON(w, http.StatusOK, cancelResponse{Success: found})
}

// handleListRequests lists requests, filtered and paginated per the
// REST table's query parameters.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RequestFilter{}
	if v := q.Get("status"); v != "" {
		st := model.RequestStatus(v)
		filter.Status = &st
	}
	if v := q.Get("provider"); v != "" {
		filter.Provider = &v
	}
	limit := parseIntParam(q.Get("limit"), 100)
	offset := parseIntParam(q.Get("offset"), 0)

	reqs, err := s.store.ListRequests(filter, limit, offset, "created_at", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

type statusResponse struct {
	Gateway   gatewaySnapshot          `json:"gateway"`
	Providers []*model.ProviderStatus  `json:"providers"`
}

type gatewaySnapshot struct {
	UptimeS    float64 `json:"uptime_s"`
	QueueDepth int     `json:"queue_depth"`
	Processing int     `json:"processing_count"`
}

// handleStatus reports a gateway-wide and per-provider snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviderStatus()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats := s.queue.Stats()
	writeJSON(w, http.StatusOK, statusResponse{
		Gateway: gatewaySnapshot{
			UptimeS:    time.Since(s.startedAt).Seconds(),
			QueueDepth: stats.QueueDepth,
			Processing: stats.ProcessingCount,
		},
		Providers: providers,
	})
}

type queueResponse struct {
	QueueDepth      int            `json:"queue_depth"`
	ProcessingCount int            `json:"processing_count"`
	ByProvider      map[string]int `json:"by_provider"`
}

// handleQueue reports the live in-memory queue/concurrency snapshot.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats := s.queue.Stats()
	writeJSON(w, http.StatusOK, queueResponse{
		QueueDepth:      stats.QueueDepth,
		ProcessingCount: stats.ProcessingCount,
		ByProvider:      stats.ByProvider,
	})
}

// handleProviders enumerates every configured provider's last known
// status; a provider the Health Monitor has never probed yet is
// reported with an unknown health state rather than omitted.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	known, err := s.store.ListProviderStatus()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	byName := make(map[string]*model.ProviderStatus, len(known))
	for _, p := range known {
		byName[p.Name] = p
	}

	var out []*model.ProviderStatus
	for _, name := range s.backends.Providers() {
		if p, ok := byName[name]; ok {
			out = append(out, p)
			continue
		}
		_, kind, _ := s.backends.Get(name)
		out = append(out, &model.ProviderStatus{
			Name: name, BackendKind: kind, Status: model.HealthUnknown, Enabled: true,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth is the liveness probe: if this handler is reachable at
// all the process is up, independent of any provider's own health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
