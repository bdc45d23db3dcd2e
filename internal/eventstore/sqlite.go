package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	build_id   TEXT    NOT NULL,
	event_type TEXT    NOT NULL,
	timestamp  INTEGER NOT NULL,
	payload    BLOB    NOT NULL,
	metadata   TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_build ON events(build_id);
CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp);
`

const selectEvents = "SELECT id, build_id, event_type, timestamp, payload, metadata FROM events "

// SQLiteStore is the journal.db Store.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteStore opens or creates the journal at dbPath. Use ":memory:" for
// a throwaway journal.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeError(err, "open journal database").WithContext("path", dbPath).Build()
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, storeError(err, "initialize journal schema").WithContext("path", dbPath).Build()
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Append stores one event stamped with the current time. A nil payload is
// stored as an empty JSON object.
func (s *SQLiteStore) Append(ctx context.Context, buildID, eventType string, payload []byte, metadata map[string]string) error {
	var meta []byte
	if metadata != nil {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			return storeError(err, "marshal event metadata").WithContext("build_id", buildID).Build()
		}
	}
	if payload == nil {
		payload = []byte("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (build_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)",
		buildID, eventType, s.now().UnixNano(), payload, meta)
	if err != nil {
		return storeError(err, "append event").
			WithContext("build_id", buildID).
			WithContext("event_type", eventType).Build()
	}
	return nil
}

// GetByBuildID returns the events of buildID in append order.
func (s *SQLiteStore) GetByBuildID(ctx context.Context, buildID string) ([]Event, error) {
	events, err := s.query(ctx, selectEvents+"WHERE build_id = ? ORDER BY id", buildID)
	if err != nil {
		return nil, storeError(err, "query build events").WithContext("build_id", buildID).Build()
	}
	return events, nil
}

// GetRange returns the events stamped within [start, end] in append order.
func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	events, err := s.query(ctx, selectEvents+"WHERE timestamp BETWEEN ? AND ? ORDER BY id",
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, storeError(err, "query event range").Build()
	}
	return events, nil
}

// Prune keeps the events of the keepBuilds builds whose first event is
// newest. keepBuilds below one keeps one build.
func (s *SQLiteStore) Prune(ctx context.Context, keepBuilds int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
DELETE FROM events WHERE build_id NOT IN (
	SELECT build_id FROM events GROUP BY build_id ORDER BY MIN(id) DESC LIMIT ?
)`, max(keepBuilds, 1))
	if err != nil {
		return 0, storeError(err, "prune journal").WithContext("keep_builds", keepBuilds).Build()
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError(err, "prune journal").Build()
	}
	return n, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e BaseEvent
		var ts int64
		var meta []byte
		if err := rows.Scan(&e.EventID, &e.EventBuildID, &e.EventType, &ts, &e.EventPayload, &meta); err != nil {
			return nil, err
		}
		e.EventTimestamp = time.Unix(0, ts).UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.EventMetadata); err != nil {
				return nil, err
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func storeError(err error, msg string) *ferrors.ErrorBuilder {
	return ferrors.WrapError(err, ferrors.CategoryEventStore, msg)
}
