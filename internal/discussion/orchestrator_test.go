package discussion

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

type scriptedBackend struct {
	response string
	success  bool
}

func (b *scriptedBackend) Execute(ctx context.Context, message string) backend.Result {
	if !b.success {
		return backend.Result{Success: false, Error: "provider declined", Class: "protocol_error"}
	}
	return backend.Result{Success: true, Response: b.response}
}
func (b *scriptedBackend) HealthCheck(ctx context.Context) bool { return true }
func (b *scriptedBackend) Shutdown(ctx context.Context) error   { return nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *backend.Manager, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath}, slog.Default())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := backend.NewManager()
	bus := events.New(32)
	return New(st, mgr, bus, slog.Default()), mgr, st
}

func testConfig() model.DiscussionConfig {
	return model.DiscussionConfig{ProviderTimeoutS: 5, MinProviders: 2}
}

func TestStartDiscussionFiltersUnavailableProviders(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true, response: "a"})
	mgr.Register("codex", model.BackendHTTP, &scriptedBackend{success: true, response: "b"})

	session, err := o.StartDiscussion("topic", []string{"claude", "codex", "ghost"}, testConfig())
	if err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}
	if len(session.Providers) != 2 {
		t.Fatalf("expected 2 available providers, got %v", session.Providers)
	}
	if session.Status != model.DiscussionPending {
		t.Errorf("expected pending, got %q", session.Status)
	}
}

func TestStartDiscussionRejectsBelowMinProviders(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true})

	_, err := o.StartDiscussion("topic", []string{"claude"}, testConfig())
	if err == nil {
		t.Fatal("expected an error for too few available providers")
	}
	var verr *gwerr.ValidationError
	if !isValidationError(err, &verr) {
		t.Errorf("expected a ValidationError, got %T: %v", err, err)
	}
}

func isValidationError(err error, target **gwerr.ValidationError) bool {
	ve, ok := err.(*gwerr.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func TestRunFullDiscussionHappyPath(t *testing.T) {
	o, mgr, st := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true, response: "claude's take"})
	mgr.Register("codex", model.BackendHTTP, &scriptedBackend{success: true, response: "codex's take"})

	session, err := o.StartDiscussion("how to design a cache", []string{"claude", "codex"}, testConfig())
	if err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}

	final, err := o.RunFullDiscussion(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("RunFullDiscussion failed: %v", err)
	}
	if final.Status != model.DiscussionCompleted {
		t.Fatalf("expected completed, got %q", final.Status)
	}
	if final.Summary == nil || *final.Summary == "" {
		t.Fatal("expected a non-empty summary")
	}

	for round := 1; round <= 3; round++ {
		r := round
		msgs, err := st.GetDiscussionMessages(session.ID, &r)
		if err != nil {
			t.Fatalf("GetDiscussionMessages round %d failed: %v", round, err)
		}
		if len(msgs) != 2 {
			t.Errorf("round %d: expected 2 messages, got %d", round, len(msgs))
		}
	}

	zero := 0
	summaryMsgs, err := st.GetDiscussionMessages(session.ID, &zero)
	if err != nil {
		t.Fatalf("GetDiscussionMessages round 0 failed: %v", err)
	}
	if len(summaryMsgs) != 1 || summaryMsgs[0].Kind != model.MessageSummary {
		t.Fatalf("expected exactly one summary message, got %+v", summaryMsgs)
	}
}

func TestRunFullDiscussionTeleratesPartialProviderFailure(t *testing.T) {
	o, mgr, st := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true, response: "claude's take"})
	mgr.Register("flaky", model.BackendHTTP, &scriptedBackend{success: false})

	session, err := o.StartDiscussion("topic", []string{"claude", "flaky"}, testConfig())
	if err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}

	final, err := o.RunFullDiscussion(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("expected the session to tolerate a failing provider, got error: %v", err)
	}
	if final.Status != model.DiscussionCompleted {
		t.Fatalf("expected completed despite one failing provider, got %q", final.Status)
	}

	one := 1
	round1, _ := st.GetDiscussionMessages(session.ID, &one)
	completedCount := 0
	for _, m := range round1 {
		if m.Status == model.MessageCompleted {
			completedCount++
		}
	}
	if completedCount != 1 {
		t.Errorf("expected exactly 1 completed round-1 message, got %d", completedCount)
	}
}

func TestCancelDiscussionOnNonTerminalSession(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true})
	mgr.Register("codex", model.BackendHTTP, &scriptedBackend{success: true})

	session, _ := o.StartDiscussion("topic", []string{"claude", "codex"}, testConfig())

	ok, err := o.CancelDiscussion(session.ID)
	if err != nil {
		t.Fatalf("CancelDiscussion failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cancellation to succeed on a pending session")
	}

	ok, err = o.CancelDiscussion(session.ID)
	if err != nil {
		t.Fatalf("second CancelDiscussion failed: %v", err)
	}
	if ok {
		t.Error("expected second cancel on an already-cancelled session to report false")
	}
}

func TestContinueDiscussionRequiresCompletedParent(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true})
	mgr.Register("codex", model.BackendHTTP, &scriptedBackend{success: true})

	session, _ := o.StartDiscussion("topic", []string{"claude", "codex"}, testConfig())

	_, err := o.ContinueDiscussion(session.ID, nil, testConfig())
	if err == nil {
		t.Fatal("expected an error continuing a non-completed parent")
	}
}

func TestContinueDiscussionSeedsFromParentSummary(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true, response: "claude's take"})
	mgr.Register("codex", model.BackendHTTP, &scriptedBackend{success: true, response: "codex's take"})

	parent, _ := o.StartDiscussion("topic", []string{"claude", "codex"}, testConfig())
	if _, err := o.RunFullDiscussion(context.Background(), parent.ID); err != nil {
		t.Fatalf("RunFullDiscussion failed: %v", err)
	}

	child, err := o.ContinueDiscussion(parent.ID, nil, testConfig())
	if err != nil {
		t.Fatalf("ContinueDiscussion failed: %v", err)
	}
	if child.ParentSessionID == nil || *child.ParentSessionID != parent.ID {
		t.Fatalf("expected ParentSessionID to be %q, got %v", parent.ID, child.ParentSessionID)
	}
	if _, ok := child.Metadata["continuation_prompt"].(string); !ok {
		t.Errorf("expected a continuation_prompt seeded in metadata, got %+v", child.Metadata)
	}
}

func TestStartDiscussionExpandsGroupAliasInProviderList(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("kimi", model.BackendHTTP, &scriptedBackend{success: true})
	mgr.Register("qwen", model.BackendHTTP, &scriptedBackend{success: true})
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true})

	session, err := o.StartDiscussion("topic", []string{"@fast", "claude"}, testConfig())
	if err != nil {
		t.Fatalf("StartDiscussion failed: %v", err)
	}
	want := map[string]bool{"kimi": true, "qwen": true, "claude": true}
	if len(session.Providers) != len(want) {
		t.Fatalf("expected %d expanded providers, got %v", len(want), session.Providers)
	}
	for _, p := range session.Providers {
		if !want[p] {
			t.Errorf("unexpected provider %q in expanded list", p)
		}
	}
}

func TestResolveProviderGroupExpandsAtPrefix(t *testing.T) {
	o, mgr, _ := newTestOrchestrator(t)
	mgr.Register("kimi", model.BackendHTTP, &scriptedBackend{success: true})
	mgr.Register("claude", model.BackendHTTP, &scriptedBackend{success: true})

	cfg := testConfig()
	fast := o.ResolveProviderGroup("@fast", cfg)
	found := false
	for _, p := range fast {
		if p == "kimi" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected @fast to include kimi, got %v", fast)
	}

	literal := o.ResolveProviderGroup("claude", cfg)
	if len(literal) != 1 || literal[0] != "claude" {
		t.Errorf("expected literal resolution to singleton claude, got %v", literal)
	}

	unknown := o.ResolveProviderGroup("not-registered", cfg)
	if len(unknown) != 0 {
		t.Errorf("expected unknown provider to resolve empty, got %v", unknown)
	}
}
