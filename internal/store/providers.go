package store

import (
	"database/sql"
	"fmt"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
)

// UpdateProviderStatus upserts a provider's health snapshot (INSERT OR
// REPLACE, matching original_source's update_provider_status).
func (s *Store) UpdateProviderStatus(p *model.ProviderStatus) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO provider_status (
			name, backend_kind, status, queue_depth, avg_latency_ms,
			success_rate, last_check, error, enabled, priority,
			rate_limit_rpm, timeout_s, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.BackendKind, string(p.Status), p.QueueDepth, p.AvgLatencyMs,
		p.SuccessRate, toUnixPtr(p.LastCheck), p.Error, boolToInt(p.Enabled),
		p.Priority, p.RateLimitRPM, p.TimeoutS, toUnix(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: update_provider_status: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// GetProviderStatus fetches a single provider's status, or nil if
// unknown.
func (s *Store) GetProviderStatus(name string) (*model.ProviderStatus, error) {
	row := s.db.QueryRow(`SELECT name, backend_kind, status, queue_depth,
		avg_latency_ms, success_rate, last_check, error, enabled, priority,
		rate_limit_rpm, timeout_s FROM provider_status WHERE name = ?`, name)
	p, err := scanProviderStatus(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_provider_status: %w: %v", gwerr.ErrStoreError, err)
	}
	return p, nil
}

// ListProviderStatus fetches every known provider's status, ordered by
// name.
func (s *Store) ListProviderStatus() ([]*model.ProviderStatus, error) {
	rows, err := s.db.Query(`SELECT name, backend_kind, status, queue_depth,
		avg_latency_ms, success_rate, last_check, error, enabled, priority,
		rate_limit_rpm, timeout_s FROM provider_status ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list_provider_status: %w: %v", gwerr.ErrStoreError, err)
	}
	defer rows.Close()

	var out []*model.ProviderStatus
	for rows.Next() {
		p, err := scanProviderStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list_provider_status scan: %w: %v", gwerr.ErrStoreError, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProviderStatus(row rowScanner) (*model.ProviderStatus, error) {
	var (
		p            model.ProviderStatus
		status       string
		lastCheck    sql.NullFloat64
		errText      sql.NullString
		enabled      int
		rateLimit    sql.NullInt64
	)
	if err := row.Scan(&p.Name, &p.BackendKind, &status, &p.QueueDepth,
		&p.AvgLatencyMs, &p.SuccessRate, &lastCheck, &errText, &enabled,
		&p.Priority, &rateLimit, &p.TimeoutS); err != nil {
		return nil, err
	}
	p.Status = model.ProviderHealth(status)
	p.Enabled = enabled != 0
	if lastCheck.Valid {
		t := fromUnix(lastCheck.Float64)
		p.LastCheck = &t
	}
	if errText.Valid {
		p.Error = &errText.String
	}
	if rateLimit.Valid {
		n := int(rateLimit.Int64)
		p.RateLimitRPM = &n
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
