package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
)

// CreateRequest persists a new request. Fails with gwerr.ErrDuplicate
// if the id already exists.
func (s *Store) CreateRequest(r *model.Request) error {
	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO requests (
			id, provider, message, status, priority, timeout_s,
			created_at, updated_at, backend_kind, routed_at,
			started_at, completed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Provider, r.Message, string(r.Status), r.Priority, r.TimeoutS,
		toUnix(r.CreatedAt), toUnix(r.UpdatedAt), backendKindOrNil(r.BackendKind),
		toUnixPtr(r.RoutedAt), toUnixPtr(r.StartedAt), toUnixPtr(r.CompletedAt), meta,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("request %q: %w", r.ID, gwerr.ErrDuplicate)
		}
		return fmt.Errorf("store: create_request: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// GetRequest fetches a request by id, or nil if it does not exist.
func (s *Store) GetRequest(id string) (*model.Request, error) {
	row := s.db.QueryRow(`SELECT id, provider, message, status, priority, timeout_s,
		created_at, updated_at, backend_kind, routed_at, started_at, completed_at, metadata
		FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_request: %w: %v", gwerr.ErrStoreError, err)
	}
	return r, nil
}

// UpdateRequestStatus transitions a request's status. It sets
// updated_at to now; started_at/routed_at when transitioning to
// processing; completed_at when transitioning to a terminal state. A
// repeated transition to the same terminal state is a no-op, not an
// error. A transition away from a terminal state is refused.
func (s *Store) UpdateRequestStatus(id string, status model.RequestStatus, backendKind *model.BackendKind) error {
	current, err := s.GetRequest(id)
	if err != nil {
		return err
	}
	if current == nil {
		return &gwerr.NotFoundError{Kind: "request", ID: id}
	}
	if current.Status.IsTerminal() {
		if current.Status == status {
			return nil // idempotent no-op
		}
		return fmt.Errorf("request %q: cannot transition from terminal state %q to %q: %w",
			id, current.Status, status, gwerr.ErrClientError)
	}

	now := time.Now()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), toUnix(now)}

	if backendKind != nil {
		sets = append(sets, "backend_kind = ?")
		args = append(args, string(*backendKind))
	}
	switch status {
	case model.StatusProcessing:
		sets = append(sets, "started_at = ?", "routed_at = ?")
		args = append(args, toUnix(now), toUnix(now))
	case model.StatusCompleted, model.StatusFailed, model.StatusTimeout, model.StatusCancelled:
		sets = append(sets, "completed_at = ?")
		args = append(args, toUnix(now))
	}
	args = append(args, id)

	query := "UPDATE requests SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: update_request_status: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	Status   *model.RequestStatus
	Provider *string
}

// orderByWhitelist prevents SQL injection through a caller-controlled
// order_by column name.
var orderByWhitelist = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"priority":   true,
}

// ListRequests lists requests matching filter, paginated and ordered.
// orderBy is whitelisted against {created_at, updated_at, priority};
// an unrecognized value falls back to created_at.
func (s *Store) ListRequests(filter RequestFilter, limit, offset int, orderBy string, desc bool) ([]*model.Request, error) {
	if !orderByWhitelist[orderBy] {
		orderBy = "created_at"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}

	query := `SELECT id, provider, message, status, priority, timeout_s,
		created_at, updated_at, backend_kind, routed_at, started_at, completed_at, metadata
		FROM requests WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Provider != nil {
		query += " AND provider = ?"
		args = append(args, *filter.Provider)
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", orderBy, dir)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list_requests: %w: %v", gwerr.ErrStoreError, err)
	}
	defer rows.Close()

	var out []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list_requests scan: %w: %v", gwerr.ErrStoreError, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPendingRequests returns up to limit queued requests ordered by
// (priority DESC, created_at ASC) — the dispatch order.
func (s *Store) GetPendingRequests(limit int) ([]*model.Request, error) {
	status := model.StatusQueued
	return s.ListRequests(RequestFilter{Status: &status}, limit, 0, "priority", true)
}

// CancelRequest sets status=cancelled if the request is currently
// queued or processing; returns whether it did.
func (s *Store) CancelRequest(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE requests SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.StatusCancelled), toUnix(time.Now()), toUnix(time.Now()),
		id, string(model.StatusQueued), string(model.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("store: cancel_request: %w: %v", gwerr.ErrStoreError, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CleanupOldRequests deletes requests (and their responses) older
// than maxAgeHours, returning the number of requests deleted.
func (s *Store) CleanupOldRequests(maxAgeHours int) (int, error) {
	cutoff := toUnix(time.Now().Add(-time.Duration(maxAgeHours) * time.Hour))

	if _, err := s.db.Exec(`DELETE FROM responses WHERE request_id IN
		(SELECT id FROM requests WHERE created_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("store: cleanup_old_requests (responses): %w: %v", gwerr.ErrStoreError, err)
	}
	res, err := s.db.Exec(`DELETE FROM requests WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup_old_requests: %w: %v", gwerr.ErrStoreError, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*model.Request, error) {
	var (
		r                                                      model.Request
		status, backendKind                                    sql.NullString
		createdAt, updatedAt                                    float64
		routedAt, startedAt, completedAt                        sql.NullFloat64
		meta                                                    sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Provider, &r.Message, &status, &r.Priority, &r.TimeoutS,
		&createdAt, &updatedAt, &backendKind, &routedAt, &startedAt, &completedAt, &meta); err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status.String)
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)
	if backendKind.Valid {
		k := model.BackendKind(backendKind.String)
		r.BackendKind = &k
	}
	if routedAt.Valid {
		t := fromUnix(routedAt.Float64)
		r.RoutedAt = &t
	}
	if startedAt.Valid {
		t := fromUnix(startedAt.Float64)
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := fromUnix(completedAt.Float64)
		r.CompletedAt = &t
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &r, nil
}

func marshalMeta(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetaInto(raw string, dst *map[string]any) error {
	return json.Unmarshal([]byte(raw), dst)
}

func backendKindOrNil(k *model.BackendKind) any {
	if k == nil {
		return nil
	}
	return string(*k)
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func toUnixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toUnix(*t)
}

func fromUnix(f float64) time.Time {
	return time.Unix(0, int64(f*1e9))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
