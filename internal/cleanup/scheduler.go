package cleanup

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// scheduler drives a Loop's RunOnce on a cron schedule.
type scheduler struct {
	loop    *Loop
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

func newScheduler(loop *Loop) *scheduler {
	return &scheduler{loop: loop, cron: cron.New()}
}

// start registers the cleanup cycle against loop.cfg.Schedule and
// starts the cron scheduler. An empty schedule disables it entirely.
func (s *scheduler) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loop.cfg.Schedule == "" {
		s.loop.log.Info("cleanup schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.loop.cfg.Schedule); err != nil {
		return fmt.Errorf("cleanup: invalid schedule %q: %w", s.loop.cfg.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.loop.cfg.Schedule, func() {
		if _, err := s.loop.RunOnce(ctx); err != nil {
			s.loop.log.Error("scheduled cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("cleanup: schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.loop.log.Info("cleanup scheduler started",
		"schedule", s.loop.cfg.Schedule,
		"request_ttl_hours", s.loop.cfg.RequestTTLHours,
		"metrics_ttl_hours", s.loop.cfg.MetricsTTLHours,
		"discussion_ttl_hours", s.loop.cfg.DiscussionTTLHours,
	)

	go func() {
		<-ctx.Done()
		s.stop()
	}()
	return nil
}

func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		doneCtx := s.cron.Stop()
		<-doneCtx.Done()
		s.running = false
		s.loop.log.Info("cleanup scheduler stopped")
	}
}

func (s *scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
