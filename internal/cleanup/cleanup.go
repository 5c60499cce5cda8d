// Package cleanup implements the gateway's Cleanup Loop (component H):
// a cron-scheduled periodic task that evicts expired requests, metric
// rows, and discussion sessions once they age past their configured
// TTL.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/gateway/internal/store"
)

// Config holds the per-kind retention windows and the cron schedule
// the loop runs on.
type Config struct {
	// RequestTTLHours is how long a request (and its response) is
	// kept after creation before eviction, whatever its status.
	RequestTTLHours int

	// MetricsTTLHours is how long a recorded metric event row is kept.
	MetricsTTLHours int

	// DiscussionTTLHours is how long a discussion session (and its
	// messages) is kept after creation, whatever its status.
	DiscussionTTLHours int

	// Schedule is a cron expression (standard 5-field, or a
	// "@every"/"@hourly"-style descriptor). Empty disables scheduling.
	Schedule string
}

// DefaultConfig mirrors spec.md §4.H's defaults: requests 24h, metrics
// and discussions 7 days, run hourly.
func DefaultConfig() Config {
	return Config{
		RequestTTLHours:    24,
		MetricsTTLHours:    24 * 7,
		DiscussionTTLHours: 24 * 7,
		Schedule:           "@hourly",
	}
}

// Loop runs the three store eviction operations, either once on
// demand or on its own cron schedule.
type Loop struct {
	store     *store.Store
	cfg       Config
	log       *slog.Logger
	scheduler *scheduler
}

// New builds a Loop. Use DefaultConfig() for spec.md's defaults.
func New(st *store.Store, cfg Config, log *slog.Logger) *Loop {
	l := &Loop{store: st, cfg: cfg, log: log}
	l.scheduler = newScheduler(l)
	return l
}

// Result reports how many rows each cleanup operation evicted.
type Result struct {
	RequestsDeleted    int
	MetricsDeleted     int
	DiscussionsDeleted int
}

// RunOnce evicts everything past its TTL exactly once and returns the
// per-kind counts. A failure in one operation does not prevent the
// others from running; all encountered errors are joined.
func (l *Loop) RunOnce(ctx context.Context) (Result, error) {
	var result Result
	var errs []error

	if n, err := l.store.CleanupOldRequests(l.cfg.RequestTTLHours); err != nil {
		errs = append(errs, fmt.Errorf("cleanup requests: %w", err))
	} else {
		result.RequestsDeleted = n
	}

	if n, err := l.store.CleanupOldMetrics(l.cfg.MetricsTTLHours); err != nil {
		errs = append(errs, fmt.Errorf("cleanup metrics: %w", err))
	} else {
		result.MetricsDeleted = n
	}

	if n, err := l.store.CleanupOldDiscussions(l.cfg.DiscussionTTLHours); err != nil {
		errs = append(errs, fmt.Errorf("cleanup discussions: %w", err))
	} else {
		result.DiscussionsDeleted = n
	}

	total := result.RequestsDeleted + result.MetricsDeleted + result.DiscussionsDeleted
	if len(errs) > 0 {
		l.log.Error("cleanup cycle completed with errors",
			"requests_deleted", result.RequestsDeleted,
			"metrics_deleted", result.MetricsDeleted,
			"discussions_deleted", result.DiscussionsDeleted,
			"errors", errs,
		)
		return result, joinErrors(errs)
	}

	if total > 0 {
		l.log.Info("cleanup cycle completed",
			"requests_deleted", result.RequestsDeleted,
			"metrics_deleted", result.MetricsDeleted,
			"discussions_deleted", result.DiscussionsDeleted,
		)
	} else {
		l.log.Debug("cleanup cycle completed, nothing to evict")
	}
	return result, nil
}

// Start begins the scheduled loop. It does not block; scheduled runs
// fire in the cron library's own goroutine until Stop is called or ctx
// is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	return l.scheduler.start(ctx)
}

// Stop halts the scheduler, waiting for any in-flight cycle to finish.
func (l *Loop) Stop() {
	l.scheduler.stop()
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "cleanup: multiple failures:"
	for _, e := range errs {
		msg += " " + e.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}
