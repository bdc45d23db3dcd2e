package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements ObjectStore in a single SQLite database file.
// Put relies on INSERT OR IGNORE for check-and-set, so concurrent writers of
// the same key never produce two rows.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: writers queue in the pool instead of failing with
	// SQLITE_BUSY, and ":memory:" databases stay shared.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		key TEXT PRIMARY KEY,
		object_type TEXT NOT NULL,
		data BLOB NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_objects_type ON objects(object_type);
	CREATE TABLE IF NOT EXISTS build_refs (
		build_id TEXT NOT NULL,
		key TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (build_id, key)
	);
	CREATE TABLE IF NOT EXISTS builds (
		build_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts obj unless its key already exists.
func (s *SQLiteStore) Put(ctx context.Context, obj *Object) (bool, error) {
	if err := validKey(obj.Key); err != nil {
		return false, err
	}
	created := obj.Metadata.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	custom := maps.Clone(obj.Metadata.Custom)
	if custom == nil {
		custom = map[string]string{}
	}
	metadataJSON, err := json.Marshal(custom)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	data := obj.Data
	if data == nil {
		data = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO objects (key, object_type, data, metadata, created_at) VALUES (?, ?, ?, ?, ?)",
		obj.Key, string(obj.Type), data, string(metadataJSON), created.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("insert object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert object: %w", err)
	}
	return n > 0, nil
}

// Get retrieves the object stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Object, error) {
	var (
		objectType   string
		data         []byte
		metadataJSON sql.NullString
		createdAt    int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT object_type, data, metadata, created_at FROM objects WHERE key = ?", key,
	).Scan(&objectType, &data, &metadataJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("query object: %w", err)
	}

	metadata := Metadata{CreatedAt: time.Unix(0, createdAt).UTC(), Custom: map[string]string{}}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &metadata.Custom); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	metadata.Custom["object_type"] = objectType

	return &Object{
		Key:      key,
		Type:     ObjectType(objectType),
		Size:     int64(len(data)),
		Data:     data,
		Metadata: metadata,
	}, nil
}

// Exists reports whether key is stored.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM objects WHERE key = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query object: %w", err)
	}
	return true, nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// List returns the sorted keys of objectType, or all keys when empty.
func (s *SQLiteStore) List(ctx context.Context, objectType ObjectType) ([]string, error) {
	query := "SELECT key FROM objects ORDER BY key"
	var args []any
	if objectType != "" {
		query = "SELECT key FROM objects WHERE object_type = ? ORDER BY key"
		args = append(args, string(objectType))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return keys, nil
}

// AddBuildRef records keys for buildID, replacing any earlier ref of the same id.
func (s *SQLiteStore) AddBuildRef(ctx context.Context, buildID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixNano()
	if _, err := tx.ExecContext(ctx, "DELETE FROM build_refs WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("clear build ref: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO builds (build_id, created_at) VALUES (?, ?)", buildID, now); err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	for _, key := range sortedUnique(keys) {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO build_refs (build_id, key, created_at) VALUES (?, ?, ?)", buildID, key, now); err != nil {
			return fmt.Errorf("insert build ref: %w", err)
		}
	}
	return tx.Commit()
}

// BuildRefs returns every recorded build ref, newest first.
func (s *SQLiteStore) BuildRefs(ctx context.Context) ([]BuildRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT build_id, created_at FROM builds")
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	var refs []BuildRef
	for rows.Next() {
		var ref BuildRef
		var created int64
		if err := rows.Scan(&ref.BuildID, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan build: %w", err)
		}
		ref.CreatedAt = time.Unix(0, created).UTC()
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for i := range refs {
		keys, err := s.refKeys(ctx, refs[i].BuildID)
		if err != nil {
			return nil, err
		}
		refs[i].Keys = keys
	}
	sortRefs(refs)
	return refs, nil
}

func (s *SQLiteStore) refKeys(ctx context.Context, buildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM build_refs WHERE build_id = ? ORDER BY key", buildID)
	if err != nil {
		return nil, fmt.Errorf("query build refs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan build ref: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteBuildRef drops buildID and its key rows.
func (s *SQLiteStore) DeleteBuildRef(ctx context.Context, buildID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM build_refs WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("delete build ref: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM builds WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("delete build: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
