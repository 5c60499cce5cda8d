package store

import (
	"fmt"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
)

// RecordMetric appends one event_type/latency/success sample for a
// provider.
func (s *Store) RecordMetric(m *model.MetricEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics (provider, request_id, event_type, latency_ms, success, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Provider, m.RequestID, m.EventType, m.LatencyMs, boolToInt(m.Success), m.Error, toUnix(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("store: record_metric: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// ProviderMetrics summarizes a provider's recent activity over a
// lookback window, aggregated in SQL as original_source's
// get_provider_metrics does.
type ProviderMetrics struct {
	Provider       string
	TotalRequests  int
	SuccessCount   int
	FailureCount   int
	AvgLatencyMs   float64
	SuccessRate    float64
}

// GetProviderMetrics aggregates metrics for provider over the last
// windowHours hours.
func (s *Store) GetProviderMetrics(provider string, windowHours int) (*ProviderMetrics, error) {
	cutoff := toUnix(time.Now().Add(-time.Duration(windowHours) * time.Hour))

	row := s.db.QueryRow(`
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) AS successes,
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) AS failures,
			AVG(latency_ms) AS avg_latency
		FROM metrics WHERE provider = ? AND timestamp >= ?`, provider, cutoff)

	var (
		total, successes, failures int
		avgLatency                 *float64
	)
	if err := row.Scan(&total, &successes, &failures, &avgLatency); err != nil {
		return nil, fmt.Errorf("store: get_provider_metrics: %w: %v", gwerr.ErrStoreError, err)
	}

	pm := &ProviderMetrics{
		Provider:      provider,
		TotalRequests: total,
		SuccessCount:  successes,
		FailureCount:  failures,
	}
	if avgLatency != nil {
		pm.AvgLatencyMs = *avgLatency
	}
	if total > 0 {
		pm.SuccessRate = float64(successes) / float64(total)
	} else {
		pm.SuccessRate = 1.0
	}
	return pm, nil
}

// CleanupOldMetrics deletes metric rows older than maxAgeHours,
// returning the number deleted.
func (s *Store) CleanupOldMetrics(maxAgeHours int) (int, error) {
	cutoff := toUnix(time.Now().Add(-time.Duration(maxAgeHours) * time.Hour))
	res, err := s.db.Exec(`DELETE FROM metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup_old_metrics: %w: %v", gwerr.ErrStoreError, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
