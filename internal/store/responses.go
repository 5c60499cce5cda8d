package store

import (
	"database/sql"
	"fmt"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
)

// SaveResponse upserts the response for a request id (INSERT OR
// REPLACE, matching original_source's save_response).
func (s *Store) SaveResponse(r *model.Response) error {
	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO responses (
			request_id, status, response, error, provider, latency_ms,
			tokens_used, created_at, metadata, thinking, raw_output
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.Status, r.Response, r.Error, r.Provider, r.LatencyMs,
		r.TokensUsed, toUnix(time.Now()), meta, r.Thinking, r.RawOutput,
	)
	if err != nil {
		return fmt.Errorf("store: save_response: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// GetResponse fetches the response for a request id, or nil if none
// has been saved yet.
func (s *Store) GetResponse(requestID string) (*model.Response, error) {
	row := s.db.QueryRow(`SELECT request_id, status, response, error, provider,
		latency_ms, tokens_used, metadata, thinking, raw_output
		FROM responses WHERE request_id = ?`, requestID)

	var (
		r                     model.Response
		latencyMs             sql.NullFloat64
		tokensUsed            sql.NullInt64
		meta                  sql.NullString
	)
	err := row.Scan(&r.RequestID, &r.Status, &r.Response, &r.Error, &r.Provider,
		&latencyMs, &tokensUsed, &meta, &r.Thinking, &r.RawOutput)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_response: %w: %v", gwerr.ErrStoreError, err)
	}
	r.LatencyMs = latencyMs.Float64
	if tokensUsed.Valid {
		n := int(tokensUsed.Int64)
		r.TokensUsed = &n
	}
	if meta.Valid {
		if err := unmarshalMetaInto(meta.String, &r.Metadata); err != nil {
			return nil, fmt.Errorf("store: get_response: unmarshal metadata: %w", err)
		}
	}
	return &r, nil
}
