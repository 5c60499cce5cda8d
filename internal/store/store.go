// Package store is the gateway's durable State Store (component A):
// requests, responses, provider status, metrics, and discussion
// sessions/messages, backed by an embedded SQLite database opened in
// WAL mode with a single writer.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the gateway's SQLite-backed persistence layer. All writes
// are atomic (one statement or one transaction); readers see committed
// state. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	mu     sync.Mutex // guards closed so Close is idempotent; SetMaxOpenConns(1) is what serializes writers
	closed bool
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path.
	Path string

	// BusyTimeoutMS is how long a writer waits for a lock before
	// failing. Default: 5000.
	BusyTimeoutMS int
}

// Open opens (and if needed creates) the gateway's database, applying
// WAL + NORMAL synchronous mode and a single-writer connection pool,
// matching the teacher's pkg/limits/storage/sqlite.go setup and
// original_source's state_store.py pragmas.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path cannot be empty")
	}
	if cfg.BusyTimeoutMS == 0 {
		cfg.BusyTimeoutMS = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// turns that constraint into a guarantee instead of a race.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	message TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	priority INTEGER NOT NULL DEFAULT 50,
	timeout_s REAL NOT NULL DEFAULT 300.0,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	backend_kind TEXT,
	routed_at REAL,
	started_at REAL,
	completed_at REAL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS responses (
	request_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	response TEXT,
	error TEXT,
	provider TEXT,
	latency_ms REAL,
	tokens_used INTEGER,
	created_at REAL NOT NULL,
	metadata TEXT,
	thinking TEXT,
	raw_output TEXT,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);

CREATE TABLE IF NOT EXISTS provider_status (
	name TEXT PRIMARY KEY,
	backend_kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'unknown',
	queue_depth INTEGER DEFAULT 0,
	avg_latency_ms REAL DEFAULT 0.0,
	success_rate REAL DEFAULT 1.0,
	last_check REAL,
	error TEXT,
	enabled INTEGER DEFAULT 1,
	priority INTEGER DEFAULT 50,
	rate_limit_rpm INTEGER,
	timeout_s REAL DEFAULT 300.0,
	updated_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	request_id TEXT,
	event_type TEXT NOT NULL,
	latency_ms REAL,
	success INTEGER,
	error TEXT,
	timestamp REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS discussion_sessions (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	current_round INTEGER DEFAULT 0,
	providers TEXT NOT NULL,
	config TEXT,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	summary TEXT,
	parent_session_id TEXT,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS discussion_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	round_number INTEGER NOT NULL,
	provider TEXT NOT NULL,
	message_type TEXT NOT NULL,
	content TEXT,
	references_messages TEXT,
	latency_ms REAL,
	status TEXT DEFAULT 'pending',
	created_at REAL NOT NULL,
	metadata TEXT,
	FOREIGN KEY (session_id) REFERENCES discussion_sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_provider ON requests(provider);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_priority ON requests(priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_responses_request ON responses(request_id);
CREATE INDEX IF NOT EXISTS idx_metrics_provider ON metrics(provider);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_discussion_sessions_status ON discussion_sessions(status);
CREATE INDEX IF NOT EXISTS idx_discussion_sessions_created ON discussion_sessions(created_at);
CREATE INDEX IF NOT EXISTS idx_discussion_messages_session ON discussion_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_discussion_messages_round ON discussion_messages(session_id, round_number);
`

// migrate creates the schema if absent, then applies additive column
// migrations guarded against "duplicate column" errors so re-running
// migrate on an already-current database is a no-op, never an error.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	additive := []string{
		"ALTER TABLE responses ADD COLUMN thinking TEXT",
		"ALTER TABLE responses ADD COLUMN raw_output TEXT",
		"ALTER TABLE discussion_sessions ADD COLUMN parent_session_id TEXT",
	}
	for _, stmt := range additive {
		if _, err := s.db.Exec(stmt); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("migrate %q: %w", stmt, err)
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}
