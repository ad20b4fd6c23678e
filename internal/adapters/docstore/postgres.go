package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikey-austin/summarist/internal/ports"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS summarist_documents (
	user_id TEXT NOT NULL,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, collection, id)
);

CREATE TABLE IF NOT EXISTS summarist_profiles (
	user_id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore keeps documents as JSONB rows.
type PostgresStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return NewPostgresStore(pool, 5*time.Second), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Upsert writes a document.
func (s *PostgresStore) Upsert(ctx context.Context, userID string, coll ports.Collection, id string, data json.RawMessage) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	const upsertSQL = `
		INSERT INTO summarist_documents (user_id, collection, id, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	timeoutCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Exec(timeoutCtx, upsertSQL, userID, string(coll), id, []byte(data))
	return err
}

// Delete removes a document.
func (s *PostgresStore) Delete(ctx context.Context, userID string, coll ports.Collection, id string) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	timeoutCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Exec(timeoutCtx, `DELETE FROM summarist_documents WHERE user_id = $1 AND collection = $2 AND id = $3`, userID, string(coll), id)
	return err
}

// List returns a collection ordered by id.
func (s *PostgresStore) List(ctx context.Context, userID string, coll ports.Collection) ([]ports.Document, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, err
	}
	timeoutCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.Query(timeoutCtx, `SELECT id, data FROM summarist_documents WHERE user_id = $1 AND collection = $2 ORDER BY id`, userID, string(coll))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []ports.Document{}
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		docs = append(docs, ports.Document{ID: id, Data: json.RawMessage(data)})
	}
	return docs, rows.Err()
}

// Profile returns the profile document.
func (s *PostgresStore) Profile(ctx context.Context, userID string) (json.RawMessage, bool, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, false, err
	}
	timeoutCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	var data []byte
	err := s.db.QueryRow(timeoutCtx, `SELECT data FROM summarist_profiles WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(data), true, nil
}

// MergeProfile overlays fields with the jsonb concatenation operator.
func (s *PostgresStore) MergeProfile(ctx context.Context, userID string, fields map[string]any) error {
	if err := validKey(userID, "-"); err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	const mergeSQL = `
		INSERT INTO summarist_profiles (user_id, data, updated_at) VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET data = summarist_profiles.data || EXCLUDED.data, updated_at = NOW()
	`
	timeoutCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.db.Exec(timeoutCtx, mergeSQL, userID, string(patch))
	return err
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
