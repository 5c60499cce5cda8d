package cleanup

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(store.Config{Path: dbPath}, slog.Default())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnceEvictsOnlyExpiredRowsAcrossAllThreeKinds(t *testing.T) {
	st := newTestStore(t)

	oldReq := model.NewRequest(store.NewRequestID(), "claude", "hi", 0, 30, nil)
	oldReq.CreatedAt = time.Now().Add(-48 * time.Hour)
	newReq := model.NewRequest(store.NewRequestID(), "claude", "hi", 0, 30, nil)
	if err := st.CreateRequest(oldReq); err != nil {
		t.Fatalf("CreateRequest (old) failed: %v", err)
	}
	if err := st.CreateRequest(newReq); err != nil {
		t.Fatalf("CreateRequest (new) failed: %v", err)
	}

	oldMetric := &model.MetricEvent{Provider: "claude", EventType: "x", Success: true, Timestamp: time.Now().Add(-240 * time.Hour)}
	newMetric := &model.MetricEvent{Provider: "claude", EventType: "x", Success: true, Timestamp: time.Now()}
	if err := st.RecordMetric(oldMetric); err != nil {
		t.Fatalf("RecordMetric (old) failed: %v", err)
	}
	if err := st.RecordMetric(newMetric); err != nil {
		t.Fatalf("RecordMetric (new) failed: %v", err)
	}

	oldSession := model.NewDiscussionSession(store.NewSessionID(), "topic", []string{"claude"}, model.DefaultDiscussionConfig())
	oldSession.CreatedAt = time.Now().Add(-240 * time.Hour)
	newSession := model.NewDiscussionSession(store.NewSessionID(), "topic", []string{"claude"}, model.DefaultDiscussionConfig())
	if err := st.CreateDiscussionSession(oldSession); err != nil {
		t.Fatalf("CreateDiscussionSession (old) failed: %v", err)
	}
	if err := st.CreateDiscussionSession(newSession); err != nil {
		t.Fatalf("CreateDiscussionSession (new) failed: %v", err)
	}

	loop := New(st, DefaultConfig(), slog.Default())
	result, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.RequestsDeleted != 1 {
		t.Errorf("expected 1 request deleted, got %d", result.RequestsDeleted)
	}
	if result.MetricsDeleted != 1 {
		t.Errorf("expected 1 metric deleted, got %d", result.MetricsDeleted)
	}
	if result.DiscussionsDeleted != 1 {
		t.Errorf("expected 1 discussion deleted, got %d", result.DiscussionsDeleted)
	}

	if req, _ := st.GetRequest(newReq.ID); req == nil {
		t.Error("expected the recent request to survive cleanup")
	}
	if req, _ := st.GetRequest(oldReq.ID); req != nil {
		t.Error("expected the old request to have been evicted")
	}
}

func TestRunOnceIsANoOpOnAnEmptyStore(t *testing.T) {
	st := newTestStore(t)
	loop := New(st, DefaultConfig(), slog.Default())

	result, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce on empty store failed: %v", err)
	}
	if result.RequestsDeleted != 0 || result.MetricsDeleted != 0 || result.DiscussionsDeleted != 0 {
		t.Errorf("expected nothing deleted, got %+v", result)
	}
}

func TestStartWithEmptyScheduleIsANoOp(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Schedule = ""
	loop := New(st, cfg, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loop.Start(ctx); err != nil {
		t.Fatalf("Start with empty schedule should be a no-op, got error: %v", err)
	}
	if loop.scheduler.isRunning() {
		t.Error("expected the scheduler not to be running with an empty schedule")
	}
}

func TestStartRejectsAnInvalidSchedule(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Schedule = "not a cron expression"
	loop := New(st, cfg, slog.Default())

	if err := loop.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid cron schedule")
	}
}

func TestStopAfterStartStopsTheScheduler(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Schedule = "@every 1h"
	loop := New(st, cfg, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loop.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !loop.scheduler.isRunning() {
		t.Fatal("expected the scheduler to be running after Start")
	}

	loop.Stop()
	if loop.scheduler.isRunning() {
		t.Error("expected the scheduler to be stopped after Stop")
	}
}
