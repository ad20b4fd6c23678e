package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SUMMARIST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SUMMARIST_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	_, err = store.db.Exec(ctx, `DELETE FROM summarist_documents WHERE user_id IN ('u1', 'u2')`)
	require.NoError(t, err)
	_, err = store.db.Exec(ctx, `DELETE FROM summarist_profiles WHERE user_id IN ('u1', 'u2')`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStoreDocuments(t *testing.T) {
	exerciseDocuments(t, openTestPostgres(t))
}

func TestPostgresStoreProfileMerge(t *testing.T) {
	exerciseProfile(t, openTestPostgres(t))
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "")
	require.Error(t, err)
}
