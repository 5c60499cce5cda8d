// Package queue implements the gateway's Request Queue (component B):
// an in-process bounded priority FIFO layered over the durable store.
// Ordering is priority DESC, created_at ASC; admission is capped by
// max_queue_size, dispatch concurrency by max_concurrent_requests.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

// Config tunes admission and concurrency.
type Config struct {
	MaxQueueSize         int
	MaxConcurrentRequests int
}

// Queue is the in-memory priority FIFO. Safe for concurrent use.
type Queue struct {
	cfg   Config
	store *store.Store
	log   *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   priorityHeap
	inFlight  map[string]*model.Request
	cancelFns map[string]context.CancelFunc
	seq       int64
}

// New builds an empty Queue. Call Rebuild after New to recover
// in-flight state from a prior process.
func New(cfg Config, st *store.Store, log *slog.Logger) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 10
	}
	q := &Queue{
		cfg:       cfg,
		store:     st,
		log:       log,
		inFlight:  make(map[string]*model.Request),
		cancelFns: make(map[string]context.CancelFunc),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Rebuild scans the store for non-terminal requests and re-queues
// them. A request found already processing at startup is demoted back
// to queued — the worker goroutine that owned it no longer exists.
func (q *Queue) Rebuild() error {
	processingStatus := model.StatusProcessing
	stuck, err := q.store.ListRequests(store.RequestFilter{Status: &processingStatus}, 10000, 0, "created_at", false)
	if err != nil {
		return fmt.Errorf("queue: rebuild: list processing requests: %w", err)
	}
	for _, r := range stuck {
		if err := q.store.UpdateRequestStatus(r.ID, model.StatusQueued, nil); err != nil {
			return fmt.Errorf("queue: rebuild: requeue %q: %w", r.ID, err)
		}
		r.Status = model.StatusQueued
	}

	queued, err := q.store.GetPendingRequests(10000)
	if err != nil {
		return fmt.Errorf("queue: rebuild: list queued requests: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// queued already holds the requests just demoted from processing.
	all := queued
	for _, r := range all {
		q.pushLocked(r)
	}
	if q.log != nil {
		q.log.Info("queue rebuilt from store", "requeued", len(all))
	}
	return nil
}

// Enqueue persists r as queued and admits it to the in-memory heap.
// Returns gwerr.ErrQueueFull once pending+in-flight reaches
// max_queue_size.
func (q *Queue) Enqueue(r *model.Request) error {
	q.mu.Lock()
	if len(q.pending)+len(q.inFlight) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return fmt.Errorf("queue is at capacity (%d): %w", q.cfg.MaxQueueSize, gwerr.ErrQueueFull)
	}
	q.mu.Unlock()

	if err := q.store.CreateRequest(r); err != nil {
		return err
	}

	q.mu.Lock()
	q.pushLocked(r)
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

func (q *Queue) pushLocked(r *model.Request) {
	q.seq++
	heap.Push(&q.pending, &item{req: r, seq: q.seq})
}

// Next blocks until a queued request is available AND a concurrency
// slot is free, then marks it processing and returns it. Returns
// ctx.Err() if ctx is cancelled first.
func (q *Queue) Next(ctx context.Context) (*model.Request, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(q.pending) > 0 && len(q.inFlight) < q.cfg.MaxConcurrentRequests {
			it := heap.Pop(&q.pending).(*item)
			r := it.req
			q.inFlight[r.ID] = r
			q.mu.Unlock()
			err := q.store.UpdateRequestStatus(r.ID, model.StatusProcessing, r.BackendKind)
			q.mu.Lock()
			if err != nil {
				delete(q.inFlight, r.ID)
				return nil, fmt.Errorf("queue: mark processing: %w", err)
			}
			now := time.Now()
			r.Status = model.StatusProcessing
			r.RoutedAt = &now
			r.StartedAt = &now
			return r, nil
		}
		q.cond.Wait()
	}
}

// MarkCompleted frees the concurrency slot held by id. The caller is
// responsible for having already persisted the terminal status and
// response via the store.
func (q *Queue) MarkCompleted(id string) {
	q.mu.Lock()
	delete(q.inFlight, id)
	delete(q.cancelFns, id)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// RegisterCancel associates a cancellation func with an in-flight
// request so Cancel can signal it. The dispatcher calls this right
// after deriving the per-request context it passes to the backend.
func (q *Queue) RegisterCancel(id string, cancel context.CancelFunc) {
	q.mu.Lock()
	q.cancelFns[id] = cancel
	q.mu.Unlock()
}

// Cancel removes id from the pending heap if still queued, or invokes
// its registered cancel func if in-flight. Returns whether a request
// in a cancellable state was found.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.pending {
		if it.req.ID == id {
			heap.Remove(&q.pending, i)
			return true
		}
	}
	if cancel, ok := q.cancelFns[id]; ok {
		cancel()
		return true
	}
	_, inFlight := q.inFlight[id]
	return inFlight
}

// Stats reports current queue depth, in-flight count, and per-provider
// breakdown across both.
type Stats struct {
	QueueDepth     int
	ProcessingCount int
	ByProvider     map[string]int
}

// Stats returns a point-in-time snapshot.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byProvider := make(map[string]int)
	for _, it := range q.pending {
		byProvider[it.req.Provider]++
	}
	for _, r := range q.inFlight {
		byProvider[r.Provider]++
	}
	return Stats{
		QueueDepth:      len(q.pending),
		ProcessingCount: len(q.inFlight),
		ByProvider:      byProvider,
	}
}
