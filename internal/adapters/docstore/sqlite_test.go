package docstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey-austin/summarist/internal/ports"
)

func openTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "summarist.db")
	store, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSQLiteStoreDocuments(t *testing.T) {
	store, _ := openTestSQLite(t)
	exerciseDocuments(t, store)
}

func TestSQLiteStoreProfileMerge(t *testing.T) {
	store, _ := openTestSQLite(t)
	exerciseProfile(t, store)
}

func TestSQLiteStoreUsesWAL(t *testing.T) {
	store, _ := openTestSQLite(t)
	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLiteStoreReopens(t *testing.T) {
	store, path := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", ports.CollectionFinished, "b1", json.RawMessage(`{"id":"b1"}`)))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	defer reopened.Close()
	docs, err := reopened.List(ctx, "u1", ports.CollectionFinished)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
