package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mikey-austin/summarist/internal/ports"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	user_id TEXT NOT NULL,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (user_id, collection, id)
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore keeps documents in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert writes a document.
func (s *SQLiteStore) Upsert(ctx context.Context, userID string, coll ports.Collection, id string, data json.RawMessage) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	const upsertSQL = `
		INSERT INTO documents (user_id, collection, id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, collection, id)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, upsertSQL, userID, string(coll), id, string(data), nowText())
	return err
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, userID string, coll ports.Collection, id string) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE user_id = ? AND collection = ? AND id = ?`, userID, string(coll), id)
	return err
}

// List returns a collection ordered by id.
func (s *SQLiteStore) List(ctx context.Context, userID string, coll ports.Collection) ([]ports.Document, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM documents WHERE user_id = ? AND collection = ? ORDER BY id`, userID, string(coll))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []ports.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		docs = append(docs, ports.Document{ID: id, Data: json.RawMessage(data)})
	}
	return docs, rows.Err()
}

// Profile returns the profile document.
func (s *SQLiteStore) Profile(ctx context.Context, userID string) (json.RawMessage, bool, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, false, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(data), true, nil
}

// MergeProfile overlays fields in a transaction.
func (s *SQLiteStore) MergeProfile(ctx context.Context, userID string, fields map[string]any) error {
	if err := validKey(userID, "-"); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_id = ?`, userID).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	merged, err := mergeJSON([]byte(existing), fields)
	if err != nil {
		return err
	}
	const upsertSQL = `
		INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsertSQL, userID, string(merged), nowText()); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
