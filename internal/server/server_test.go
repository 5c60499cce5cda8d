package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/queue"
	"mercator-hq/gateway/internal/store"
)

type fakeBackend struct {
	response string
	success  bool
}

func (b *fakeBackend) Execute(ctx context.Context, message string) backend.Result {
	return backend.Result{Success: b.success, Response: b.response}
}
func (b *fakeBackend) HealthCheck(ctx context.Context) bool { return true }
func (b *fakeBackend) Shutdown(ctx context.Context) error   { return nil }

func newTestServer(t *testing.T) (*Server, *store.Store, *backend.Manager, *queue.Queue) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath}, slog.Default())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := backend.NewManager()
	q := queue.New(queue.Config{MaxQueueSize: 10, MaxConcurrentRequests: 5}, st, slog.Default())
	bus := events.New(16)

	cfg := DefaultConfig()
	cfg.DefaultProvider = "claude"
	srv := New(cfg, st, q, mgr, bus, slog.Default())
	return srv, st, mgr, q
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleAskEnqueuesAndReturnsRequestID(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true, response: "hi"})

	w := doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("expected a non-empty request_id")
	}
	if resp.Status != model.StatusQueued {
		t.Errorf("expected queued, got %q", resp.Status)
	}
}

func TestHandleAskRejectsUnknownProvider(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "ghost", Message: "hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var body errorBody
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Detail == "" {
		t.Error("expected a non-empty detail")
	}
}

func TestHandleAskRejectsEmptyMessage(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})

	w := doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleReplyUnknownRequestIs404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/reply/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleReplyReturnsQueuedStatusWithoutWaiting(t *testing.T) {
	srv, st, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})

	askW := doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: "hi"})
	var ask askResponse
	json.Unmarshal(askW.Body.Bytes(), &ask)

	w := doRequest(t, srv, http.MethodGet, "/api/reply/"+ask.RequestID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp replyResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != model.StatusQueued {
		t.Errorf("expected queued, got %q", resp.Status)
	}

	if err := st.UpdateRequestStatus(ask.RequestID, model.StatusCompleted, nil); err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}
}

func TestHandleCancelRequestOnQueuedRequest(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})

	askW := doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: "hi"})
	var ask askResponse
	json.Unmarshal(askW.Body.Bytes(), &ask)

	w := doRequest(t, srv, http.MethodDelete, "/api/request/"+ask.RequestID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp cancelResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("expected cancellation to succeed on a queued request")
	}
}

func TestHandleCancelRequestOnUnknownRequestIs404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodDelete, "/api/request/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleListRequestsFiltersByProvider(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})
	mgr.Register("codex", model.BackendHTTP, &fakeBackend{success: true})

	doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: "a"})
	doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "codex", Message: "b"})

	w := doRequest(t, srv, http.MethodGet, "/api/requests?provider=claude", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var reqs []*model.Request
	json.Unmarshal(w.Body.Bytes(), &reqs)
	if len(reqs) != 1 || reqs[0].Provider != "claude" {
		t.Fatalf("expected exactly one claude request, got %+v", reqs)
	}
}

func TestHandleStatusReportsQueueDepth(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})

	doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: "a"})

	w := doRequest(t, srv, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statusResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Gateway.QueueDepth != 1 {
		t.Errorf("expected queue depth 1, got %d", resp.Gateway.QueueDepth)
	}
}

func TestHandleQueueReportsByProvider(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})

	doRequest(t, srv, http.MethodPost, "/api/ask", askRequest{Provider: "claude", Message: "a"})

	w := doRequest(t, srv, http.MethodGet, "/api/queue", nil)
	var resp queueResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ByProvider["claude"] != 1 {
		t.Errorf("expected 1 claude entry, got %+v", resp.ByProvider)
	}
}

func TestHandleProvidersIncludesUnprobedRegisteredProvider(t *testing.T) {
	srv, _, mgr, _ := newTestServer(t)
	mgr.Register("claude", model.BackendHTTP, &fakeBackend{success: true})

	w := doRequest(t, srv, http.MethodGet, "/api/providers", nil)
	var providers []*model.ProviderStatus
	json.Unmarshal(w.Body.Bytes(), &providers)
	if len(providers) != 1 || providers[0].Name != "claude" {
		t.Fatalf("expected claude unprobed, got %+v", providers)
	}
	if providers[0].Status != model.HealthUnknown {
		t.Errorf("expected unknown health for an unprobed provider, got %q", providers[0].Status)
	}
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp healthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestRequestIDHeaderIsAlwaysSet(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/health", nil)
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID to be set on every response")
	}
}

func TestStartupShutdownLifecycle(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	srv.cfg.Port = 0 // let the OS pick a free port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
