package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/ports"
)

// Backend names.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the directory for the file backend and the database file for sqlite.
	Path string
	// URL is the redis address or postgres DSN.
	URL string
	// Prefix namespaces redis keys.
	Prefix string
	// BusyTimeout applies to sqlite.
	BusyTimeout time.Duration
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (ports.DocumentStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileStore(cfg.Path, log)
	case BackendRedis:
		return NewRedisStore(cfg.URL, cfg.Prefix)
	case BackendSQLite:
		return OpenSQLite(cfg.Path, cfg.BusyTimeout)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// mergeJSON overlays fields onto an existing JSON object. Nil values are
// written as JSON null rather than removing the key.
func mergeJSON(existing []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

func validKey(userID string, id string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id required")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("document id required")
	}
	return nil
}
