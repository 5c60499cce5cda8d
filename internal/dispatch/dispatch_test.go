package dispatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/queue"
	"mercator-hq/gateway/internal/store"
)

type scriptedBackend struct {
	result backend.Result
	delay  time.Duration
}

func (b *scriptedBackend) Execute(ctx context.Context, message string) backend.Result {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return backend.Result{Success: false, Error: "context done", Class: "timeout"}
		}
	}
	return b.result
}
func (b *scriptedBackend) HealthCheck(ctx context.Context) bool { return true }
func (b *scriptedBackend) Shutdown(ctx context.Context) error   { return nil }

func newTestLoop(t *testing.T, mgr *backend.Manager) (*Loop, *store.Store, *queue.Queue, *events.Bus) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath}, slog.Default())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q := queue.New(queue.Config{MaxQueueSize: 10, MaxConcurrentRequests: 5}, st, slog.Default())
	bus := events.New(8)
	loop := New(Config{Workers: 2}, q, mgr, st, bus, slog.Default())
	return loop, st, q, bus
}

func enqueue(t *testing.T, st *store.Store, q *queue.Queue, provider string, timeoutS float64) *model.Request {
	t.Helper()
	r := model.NewRequest(store.NewRequestID(), provider, "hello", 50, timeoutS, nil)
	if err := q.Enqueue(r); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return r
}

func runOneAndStop(loop *Loop, q *queue.Queue) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := q.Next(ctx)
	if err == nil {
		loop.process(ctx, req)
	}
	cancel()
}

func TestProcessSuccessfulRequestMarksCompleted(t *testing.T) {
	mgr := backend.NewManager()
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{result: backend.Result{Success: true, Response: "hi there"}})
	loop, st, q, bus := newTestLoop(t, mgr)
	sub := bus.Subscribe()
	defer sub.Close()

	req := enqueue(t, st, q, "claude", 5)
	runOneAndStop(loop, q)

	got, err := st.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}

	resp, err := st.GetResponse(req.ID)
	if err != nil {
		t.Fatalf("GetResponse failed: %v", err)
	}
	if resp == nil || resp.Response == nil || *resp.Response != "hi there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestProcessFailedBackendMarksFailed(t *testing.T) {
	mgr := backend.NewManager()
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{result: backend.Result{Success: false, Error: "boom", Class: "protocol_error"}})
	loop, st, q, _ := newTestLoop(t, mgr)

	req := enqueue(t, st, q, "claude", 5)
	runOneAndStop(loop, q)

	got, _ := st.GetRequest(req.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	resp, _ := st.GetResponse(req.ID)
	if resp == nil || resp.Error == nil || *resp.Error != "boom" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestProcessUnknownProviderMarksFailed(t *testing.T) {
	mgr := backend.NewManager()
	loop, st, q, _ := newTestLoop(t, mgr)

	req := enqueue(t, st, q, "ghost", 5)
	runOneAndStop(loop, q)

	got, _ := st.GetRequest(req.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("expected failed for unconfigured provider, got %q", got.Status)
	}
}

func TestProcessHardDeadlineProducesTimeout(t *testing.T) {
	mgr := backend.NewManager()
	mgr.Register("slow", model.BackendHTTP, &scriptedBackend{result: backend.Result{Success: true, Response: "too late"}, delay: 200 * time.Millisecond})
	loop, st, q, _ := newTestLoop(t, mgr)

	// timeout_s is tiny; the backend itself would otherwise succeed.
	req := enqueue(t, st, q, "slow", 0.01)
	runOneAndStop(loop, q)

	got, _ := st.GetRequest(req.ID)
	if got.Status != model.StatusTimeout {
		t.Fatalf("expected timeout, got %q", got.Status)
	}
}

func TestProcessPublishesLifecycleEvents(t *testing.T) {
	mgr := backend.NewManager()
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{result: backend.Result{Success: true, Response: "ok"}})
	loop, st, q, bus := newTestLoop(t, mgr)
	sub := bus.Subscribe()
	defer sub.Close()

	enqueue(t, st, q, "claude", 5)
	runOneAndStop(loop, q)

	seen := map[string]bool{}
	for {
		select {
		case evt := <-sub.Events():
			seen[evt.Type] = true
		default:
			goto done
		}
	}
done:
	if !seen[events.TypeRequestProcessing] || !seen[events.TypeRequestCompleted] {
		t.Errorf("expected processing and completed events, got %+v", seen)
	}
}

func TestPreviewHelpersTruncate(t *testing.T) {
	if got := previewWords("one two three four five", 3); got != "one two three..." {
		t.Errorf("unexpected word preview: %q", got)
	}
	if got := previewChars("short", 100); got != "short" {
		t.Errorf("expected untruncated string back, got %q", got)
	}
	long := ""
	for i := 0; i < 150; i++ {
		long += "a"
	}
	if got := previewChars(long, 100); len([]rune(got)) != 103 {
		t.Errorf("expected 100 chars + ellipsis, got length %d", len([]rune(got)))
	}
}
