package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
)

// CreateDiscussionSession persists a new discussion session.
func (s *Store) CreateDiscussionSession(d *model.DiscussionSession) error {
	providers, err := json.Marshal(d.Providers)
	if err != nil {
		return fmt.Errorf("store: marshal providers: %w", err)
	}
	cfg, err := json.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}
	meta, err := marshalMeta(d.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO discussion_sessions (
			id, topic, status, current_round, providers, config,
			created_at, updated_at, summary, parent_session_id, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Topic, string(d.Status), d.CurrentRound, string(providers), string(cfg),
		toUnix(d.CreatedAt), toUnix(d.UpdatedAt), d.Summary, d.ParentSessionID, meta,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("discussion session %q: %w", d.ID, gwerr.ErrDuplicate)
		}
		return fmt.Errorf("store: create_discussion_session: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// GetDiscussionSession fetches a session by id, or nil if unknown.
func (s *Store) GetDiscussionSession(id string) (*model.DiscussionSession, error) {
	row := s.db.QueryRow(`SELECT id, topic, status, current_round, providers,
		config, created_at, updated_at, summary, parent_session_id, metadata
		FROM discussion_sessions WHERE id = ?`, id)
	d, err := scanDiscussionSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_discussion_session: %w: %v", gwerr.ErrStoreError, err)
	}
	return d, nil
}

// DiscussionSessionUpdate holds the fields a caller wants to change;
// nil fields are left untouched. Mirrors original_source's
// update_discussion_session, which builds its UPDATE statement from
// only the keyword arguments the caller actually passed.
type DiscussionSessionUpdate struct {
	Status       *model.DiscussionStatus
	CurrentRound *int
	Summary      *string
}

// UpdateDiscussionSession applies a partial update, building the SET
// clause dynamically so an all-nil update is a no-op rather than a
// statement with no effect.
func (s *Store) UpdateDiscussionSession(id string, upd DiscussionSessionUpdate) error {
	var sets []string
	var args []any

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.CurrentRound != nil {
		sets = append(sets, "current_round = ?")
		args = append(args, *upd.CurrentRound)
	}
	if upd.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *upd.Summary)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toUnix(time.Now()))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE discussion_sessions SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: update_discussion_session: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// ListDiscussionSessions lists sessions, most recently created first.
func (s *Store) ListDiscussionSessions(status *model.DiscussionStatus, limit, offset int) ([]*model.DiscussionSession, error) {
	query := `SELECT id, topic, status, current_round, providers, config,
		created_at, updated_at, summary, parent_session_id, metadata
		FROM discussion_sessions WHERE 1=1`
	var args []any
	if status != nil {
		query += " AND status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list_discussion_sessions: %w: %v", gwerr.ErrStoreError, err)
	}
	defer rows.Close()

	var out []*model.DiscussionSession
	for rows.Next() {
		d, err := scanDiscussionSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list_discussion_sessions scan: %w: %v", gwerr.ErrStoreError, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDiscussionSession removes a session and its messages.
func (s *Store) DeleteDiscussionSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM discussion_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete_discussion_session (messages): %w: %v", gwerr.ErrStoreError, err)
	}
	if _, err := s.db.Exec(`DELETE FROM discussion_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete_discussion_session: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

func scanDiscussionSession(row rowScanner) (*model.DiscussionSession, error) {
	var (
		d                      model.DiscussionSession
		status                 string
		providersJSON, cfgJSON string
		createdAt, updatedAt   float64
		summary, parentID, meta sql.NullString
	)
	if err := row.Scan(&d.ID, &d.Topic, &status, &d.CurrentRound, &providersJSON,
		&cfgJSON, &createdAt, &updatedAt, &summary, &parentID, &meta); err != nil {
		return nil, err
	}
	d.Status = model.DiscussionStatus(status)
	d.CreatedAt = fromUnix(createdAt)
	d.UpdatedAt = fromUnix(updatedAt)
	if err := json.Unmarshal([]byte(providersJSON), &d.Providers); err != nil {
		return nil, fmt.Errorf("unmarshal providers: %w", err)
	}
	if cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &d.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if summary.Valid {
		d.Summary = &summary.String
	}
	if parentID.Valid {
		d.ParentSessionID = &parentID.String
	}
	if meta.Valid {
		if err := unmarshalMetaInto(meta.String, &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &d, nil
}

// CreateDiscussionMessage persists a round message in status pending.
func (s *Store) CreateDiscussionMessage(m *model.DiscussionMessage) error {
	refs, err := json.Marshal(m.References)
	if err != nil {
		return fmt.Errorf("store: marshal references: %w", err)
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO discussion_messages (
			id, session_id, round_number, provider, message_type, content,
			references_messages, latency_ms, status, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.RoundNumber, m.Provider, string(m.Kind), m.Content,
		string(refs), m.LatencyMs, string(m.Status), toUnix(m.CreatedAt), meta,
	)
	if err != nil {
		return fmt.Errorf("store: create_discussion_message: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// DiscussionMessageUpdate holds the fields to change on a message once
// its backend call finishes.
type DiscussionMessageUpdate struct {
	Content   *string
	Status    *model.MessageStatus
	LatencyMs *float64
}

// UpdateDiscussionMessage applies a partial update by message id.
func (s *Store) UpdateDiscussionMessage(id string, upd DiscussionMessageUpdate) error {
	var sets []string
	var args []any

	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.LatencyMs != nil {
		sets = append(sets, "latency_ms = ?")
		args = append(args, *upd.LatencyMs)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE discussion_messages SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: update_discussion_message: %w: %v", gwerr.ErrStoreError, err)
	}
	return nil
}

// GetDiscussionMessages fetches a session's messages, optionally
// filtered to one round, ordered round_number ASC, created_at ASC —
// the order the discussion occurred in.
func (s *Store) GetDiscussionMessages(sessionID string, round *int) ([]*model.DiscussionMessage, error) {
	query := `SELECT id, session_id, round_number, provider, message_type, content,
		references_messages, latency_ms, status, created_at, metadata
		FROM discussion_messages WHERE session_id = ?`
	args := []any{sessionID}
	if round != nil {
		query += " AND round_number = ?"
		args = append(args, *round)
	}
	query += " ORDER BY round_number ASC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get_discussion_messages: %w: %v", gwerr.ErrStoreError, err)
	}
	defer rows.Close()

	var out []*model.DiscussionMessage
	for rows.Next() {
		m, err := scanDiscussionMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: get_discussion_messages scan: %w: %v", gwerr.ErrStoreError, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanDiscussionMessage(row rowScanner) (*model.DiscussionMessage, error) {
	var (
		m                   model.DiscussionMessage
		kind, status        string
		content             sql.NullString
		refsJSON            string
		latencyMs           sql.NullFloat64
		createdAt           float64
		meta                sql.NullString
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.RoundNumber, &m.Provider, &kind,
		&content, &refsJSON, &latencyMs, &status, &createdAt, &meta); err != nil {
		return nil, err
	}
	m.Kind = model.MessageKind(kind)
	m.Status = model.MessageStatus(status)
	m.CreatedAt = fromUnix(createdAt)
	if content.Valid {
		m.Content = &content.String
	}
	if refsJSON != "" {
		if err := json.Unmarshal([]byte(refsJSON), &m.References); err != nil {
			return nil, fmt.Errorf("unmarshal references: %w", err)
		}
	}
	if latencyMs.Valid {
		m.LatencyMs = &latencyMs.Float64
	}
	if meta.Valid {
		if err := unmarshalMetaInto(meta.String, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

// CleanupOldDiscussions deletes sessions (and their messages) older
// than maxAgeHours, returning the number of sessions deleted.
func (s *Store) CleanupOldDiscussions(maxAgeHours int) (int, error) {
	cutoff := toUnix(time.Now().Add(-time.Duration(maxAgeHours) * time.Hour))

	if _, err := s.db.Exec(`DELETE FROM discussion_messages WHERE session_id IN
		(SELECT id FROM discussion_sessions WHERE created_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("store: cleanup_old_discussions (messages): %w: %v", gwerr.ErrStoreError, err)
	}
	res, err := s.db.Exec(`DELETE FROM discussion_sessions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup_old_discussions: %w: %v", gwerr.ErrStoreError, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
