// Package dispatch implements the gateway's Dispatch Loop (component
// F): a fixed-size worker pool that pulls requests from the Request
// Queue, routes them through the Backend Abstraction under a
// dispatcher-enforced hard deadline, and writes the terminal state,
// response, metric, and event back out. Retries are never performed
// at this layer; a failed request stays failed.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/queue"
	"mercator-hq/gateway/internal/store"
	"mercator-hq/gateway/internal/telemetry/metrics"
	"mercator-hq/gateway/internal/telemetry/tracing"
)

// responsePreviewLen and cliPreviewWords bound what a published event
// may echo back to subscribers: a response preview, never the full
// response, and a CLI command preview, never the full prompt.
const (
	responsePreviewLen = 100
	cliPreviewWords     = 3
)

// Config tunes the pool.
type Config struct {
	Workers int // <= 0 falls back to 10; cmd/gateway passes queue max_concurrent_requests
}

// Loop is the dispatcher. One instance owns a fixed set of worker
// goroutines for the lifetime of the process.
type Loop struct {
	cfg      Config
	queue    *queue.Queue
	backends *backend.Manager
	store    *store.Store
	bus      *events.Bus
	log      *slog.Logger

	// Metrics and Tracer are optional; a nil value disables that
	// instrumentation without changing control flow.
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// New builds a Loop. workers <= 0 falls back to 10.
func New(cfg Config, q *queue.Queue, backends *backend.Manager, st *store.Store, bus *events.Bus, log *slog.Logger) *Loop {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return &Loop{cfg: cfg, queue: q, backends: backends, store: st, bus: bus, log: log}
}

// Run starts the worker pool and blocks until ctx is done, at which
// point every worker finishes its current request (if any) and exits.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < l.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			l.runWorker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (l *Loop) runWorker(ctx context.Context, workerID int) {
	for {
		req, err := l.queue.Next(ctx)
		if err != nil {
			return
		}
		l.process(ctx, req)
	}
}

// process drives a single request from "processing" to a terminal
// state. ctx is the worker's lifetime context, not the per-request
// deadline; the latter is derived from req.TimeoutS below.
func (l *Loop) process(ctx context.Context, req *model.Request) {
	defer l.queue.MarkCompleted(req.ID)

	l.publish(events.TypeRequestProcessing, req.ID, req.Provider, nil)

	b, kind, enabled, err := l.resolveBackend(req.Provider)
	if err != nil || !enabled {
		msg := "provider not configured"
		if err == nil {
			msg = "provider disabled"
		}
		l.finish(req, model.StatusFailed, nil, &msg, 0, nil)
		l.publish(events.TypeRequestFailed, req.ID, req.Provider, map[string]any{"error": msg})
		return
	}

	if kind == model.BackendCLI || kind == model.BackendCLIInteractive {
		l.publish(events.TypeCLIExecuting, req.ID, req.Provider, map[string]any{
			"preview": previewWords(req.Message, cliPreviewWords),
		})
	}

	spanCtx := ctx
	var span trace.Span
	if l.Tracer != nil {
		spanCtx, span = l.Tracer.Start(ctx, tracing.SpanDispatch,
			attribute.String(tracing.AttrProvider, req.Provider),
			attribute.String(tracing.AttrRequestID, req.ID),
			attribute.String(tracing.AttrBackendKind, string(kind)),
		)
		defer span.End()
	}

	deadline := time.Duration(req.TimeoutS * float64(time.Second))
	if deadline <= 0 {
		deadline = 300 * time.Second
	}
	execCtx, cancel := context.WithTimeout(spanCtx, deadline)
	l.queue.RegisterCancel(req.ID, cancel)
	defer cancel()

	start := time.Now()
	result := b.Execute(execCtx, req.Message)
	latency := time.Since(start)

	status, errMsg := classify(execCtx, result)

	var response *string
	if result.Response != "" {
		r := result.Response
		response = &r
	}
	l.finish(req, status, response, errMsg, latency, &result)

	eventType := events.TypeRequestCompleted
	preview := map[string]any{"preview": previewChars(result.Response, responsePreviewLen)}
	switch status {
	case model.StatusFailed:
		eventType = events.TypeRequestFailed
		preview = map[string]any{"error": result.Error}
	case model.StatusTimeout:
		eventType = events.TypeRequestFailed
		preview = map[string]any{"error": "timeout"}
	case model.StatusCancelled:
		eventType = events.TypeRequestCancelled
		preview = nil
	}
	l.publish(eventType, req.ID, req.Provider, preview)

	st := "success"
	if status != model.StatusCompleted {
		st = "error"
	}
	if l.Metrics != nil {
		l.Metrics.ObserveDispatch(req.Provider, st, latency)
		if status != model.StatusCompleted {
			l.Metrics.RecordError(req.Provider, result.Class)
		}
	}
	if span != nil {
		if status == model.StatusCompleted {
			tracing.SetOK(span)
		} else {
			tracing.SetError(span, fmt.Errorf("%s", st))
		}
	}
}

// resolveBackend looks up the backend for provider and whether it is
// currently enabled per the Health Monitor's last recorded status. A
// provider the monitor has never probed is treated as enabled.
func (l *Loop) resolveBackend(provider string) (backend.Backend, model.BackendKind, bool, error) {
	b, kind, err := l.backends.Get(provider)
	if err != nil {
		return nil, "", false, err
	}
	status, serr := l.store.GetProviderStatus(provider)
	if serr != nil || status == nil {
		return b, kind, true, nil
	}
	return b, kind, status.Enabled, nil
}

// classify maps a backend Result and the execution context's outcome
// to one of the gateway's terminal request states.
func classify(ctx context.Context, result backend.Result) (model.RequestStatus, *string) {
	if ctx.Err() == context.DeadlineExceeded {
		msg := "request timed out"
		return model.StatusTimeout, &msg
	}
	if ctx.Err() == context.Canceled {
		msg := "request cancelled"
		return model.StatusCancelled, &msg
	}
	if result.Success {
		return model.StatusCompleted, nil
	}
	msg := result.Error
	if msg == "" {
		msg = "backend execution failed"
	}
	return model.StatusFailed, &msg
}

// finish persists the terminal status and response for req. Store
// failures are logged but not retried here; a crash-recovery pass
// (queue.Rebuild) handles requests stuck mid-flight after a restart.
func (l *Loop) finish(req *model.Request, status model.RequestStatus, response, errMsg *string, latency time.Duration, result *backend.Result) {
	if err := l.store.UpdateRequestStatus(req.ID, status, req.BackendKind); err != nil {
		l.logError("update request status", req.ID, err)
	}

	resp := &model.Response{
		RequestID: req.ID,
		Status:    status,
		Response:  response,
		Error:     errMsg,
		Provider:  req.Provider,
		LatencyMs: float64(latency.Milliseconds()),
	}
	if result != nil {
		if result.TokensUsed != nil {
			resp.TokensUsed = result.TokensUsed
		}
		if result.Thinking != "" {
			t := result.Thinking
			resp.Thinking = &t
		}
		if result.RawOutput != "" {
			ro := result.RawOutput
			resp.RawOutput = &ro
		}
		resp.Metadata = result.Metadata
	}
	if err := l.store.SaveResponse(resp); err != nil {
		l.logError("save response", req.ID, err)
	}

	success := status == model.StatusCompleted
	if err := l.store.RecordMetric(&model.MetricEvent{
		Provider:  req.Provider,
		RequestID: &req.ID,
		EventType: "request_complete",
		LatencyMs: floatPtr(float64(latency.Milliseconds())),
		Success:   success,
		Error:     errMsg,
		Timestamp: time.Now(),
	}); err != nil {
		l.logError("record metric", req.ID, err)
	}
}

func (l *Loop) publish(eventType, requestID, provider string, data map[string]any) {
	if l.bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["request_id"] = requestID
	data["provider"] = provider
	l.bus.Publish(eventType, data)
}

func (l *Loop) logError(op, requestID string, err error) {
	if l.log == nil {
		return
	}
	l.log.Error(fmt.Sprintf("dispatch: %s failed", op), "request_id", requestID, "error", err)
}

func floatPtr(f float64) *float64 { return &f }

// previewWords returns the first n whitespace-separated tokens of s,
// followed by an ellipsis if anything was elided.
func previewWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:n], " ") + "..."
}

// previewChars truncates s to at most n runes, appending an ellipsis
// if anything was elided.
func previewChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
