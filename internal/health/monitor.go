// Package health implements the gateway's Provider Health Monitor
// (component D): a single periodic loop that probes every configured
// backend and republishes its status, never blocking the Dispatch
// Loop on a slow probe.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

// degradedThreshold is the success-rate floor below which a
// responding provider is still reported degraded rather than healthy.
const degradedThreshold = 0.5

// QueueDepthFunc reports the current in-memory queue depth for a
// provider, so the monitor can refresh it alongside health without a
// hard dependency on the queue package's concrete type.
type QueueDepthFunc func(provider string) int

// Config tunes the monitor's cadence and per-probe budget.
type Config struct {
	Interval     time.Duration // default 60s
	ProbeTimeout time.Duration // default 5s
	MetricsWindowHours int     // window used for the success-rate calc; default 1
}

// Monitor owns the periodic probe loop.
type Monitor struct {
	cfg        Config
	backends   *backend.Manager
	store      *store.Store
	queueDepth QueueDepthFunc
	log        *slog.Logger

	providerConfig map[string]providerMeta
	mu             sync.RWMutex
}

type providerMeta struct {
	kind         model.BackendKind
	priority     int
	rateLimitRPM *int
	timeoutS     float64
	enabled      bool
}

// New builds a Monitor. RegisterProvider must be called for each
// configured provider before Run starts, so static fields (priority,
// rate limit, timeout) survive into the persisted ProviderStatus row.
func New(cfg Config, backends *backend.Manager, st *store.Store, queueDepth QueueDepthFunc, log *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.MetricsWindowHours <= 0 {
		cfg.MetricsWindowHours = 1
	}
	return &Monitor{
		cfg:            cfg,
		backends:       backends,
		store:          st,
		queueDepth:     queueDepth,
		log:            log,
		providerConfig: make(map[string]providerMeta),
	}
}

// RegisterProvider records the static configuration of a provider so
// each probe cycle's upsert carries it forward.
func (m *Monitor) RegisterProvider(name string, kind model.BackendKind, priority int, rateLimitRPM *int, timeoutS float64, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerConfig[name] = providerMeta{
		kind: kind, priority: priority, rateLimitRPM: rateLimitRPM, timeoutS: timeoutS, enabled: enabled,
	}
}

// Run blocks, probing every provider every Interval, until ctx is
// done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// probeAll fans a probe out to every registered provider concurrently
// so one slow backend cannot delay another's refresh.
func (m *Monitor) probeAll(ctx context.Context) {
	for _, name := range m.backends.Providers() {
		go m.probeOne(ctx, name)
	}
}

func (m *Monitor) probeOne(ctx context.Context, name string) {
	b, kind, err := m.backends.Get(name)
	if err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	alive := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		return b.HealthCheck(probeCtx)
	}()

	status := model.HealthUnavailable
	var errMsg *string
	if alive {
		status = model.HealthHealthy
		pm, err := m.store.GetProviderMetrics(name, m.cfg.MetricsWindowHours)
		if err == nil && pm.TotalRequests > 0 && pm.SuccessRate < degradedThreshold {
			status = model.HealthDegraded
		}
	} else {
		msg := "health check failed"
		errMsg = &msg
	}

	m.mu.RLock()
	meta, ok := m.providerConfig[name]
	m.mu.RUnlock()
	if !ok {
		meta = providerMeta{kind: kind, enabled: true, timeoutS: 300}
	}

	pm, _ := m.store.GetProviderMetrics(name, m.cfg.MetricsWindowHours)
	var avgLatency, successRate float64
	successRate = 1.0
	if pm != nil {
		avgLatency = pm.AvgLatencyMs
		successRate = pm.SuccessRate
	}

	depth := 0
	if m.queueDepth != nil {
		depth = m.queueDepth(name)
	}

	now := time.Now()
	err = m.store.UpdateProviderStatus(&model.ProviderStatus{
		Name:         name,
		BackendKind:  meta.kind,
		Status:       status,
		QueueDepth:   depth,
		AvgLatencyMs: avgLatency,
		SuccessRate:  successRate,
		LastCheck:    &now,
		Error:        errMsg,
		Enabled:      meta.enabled,
		Priority:     meta.priority,
		RateLimitRPM: meta.rateLimitRPM,
		TimeoutS:     meta.timeoutS,
	})
	if err != nil && m.log != nil {
		m.log.Warn("health monitor: failed to persist provider status", "provider", name, "error", err)
	}
}
