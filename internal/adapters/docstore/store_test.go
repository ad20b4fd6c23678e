package docstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey-austin/summarist/internal/ports"
)

func exerciseDocuments(t *testing.T, store ports.DocumentStore) {
	t.Helper()
	ctx := context.Background()

	docs, err := store.List(ctx, "u1", ports.CollectionLibrary)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, store.Upsert(ctx, "u1", ports.CollectionLibrary, "b2", json.RawMessage(`{"id":"b2","title":"Two"}`)))
	require.NoError(t, store.Upsert(ctx, "u1", ports.CollectionLibrary, "b1", json.RawMessage(`{"id":"b1","title":"One"}`)))
	require.NoError(t, store.Upsert(ctx, "u1", ports.CollectionLibrary, "b1", json.RawMessage(`{"id":"b1","title":"One again"}`)))
	require.NoError(t, store.Upsert(ctx, "u2", ports.CollectionLibrary, "b3", json.RawMessage(`{"id":"b3"}`)))

	docs, err = store.List(ctx, "u1", ports.CollectionLibrary)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b1", docs[0].ID)
	assert.JSONEq(t, `{"id":"b1","title":"One again"}`, string(docs[0].Data))
	assert.Equal(t, "b2", docs[1].ID)

	finished, err := store.List(ctx, "u1", ports.CollectionFinished)
	require.NoError(t, err)
	assert.Empty(t, finished)

	require.NoError(t, store.Delete(ctx, "u1", ports.CollectionLibrary, "b2"))
	require.NoError(t, store.Delete(ctx, "u1", ports.CollectionLibrary, "missing"))
	docs, err = store.List(ctx, "u1", ports.CollectionLibrary)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b1", docs[0].ID)

	assert.Error(t, store.Upsert(ctx, "", ports.CollectionLibrary, "b1", json.RawMessage(`{}`)))
	assert.Error(t, store.Delete(ctx, "u1", ports.CollectionLibrary, " "))
}

func exerciseProfile(t *testing.T, store ports.DocumentStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MergeProfile(ctx, "u1", map[string]any{
		"email":            "reader@example.com",
		"isSubscribed":     true,
		"subscriptionType": "Premium",
	}))
	require.NoError(t, store.MergeProfile(ctx, "u1", map[string]any{
		"isSubscribed":     false,
		"subscriptionType": nil,
	}))

	raw, ok, err := store.Profile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"email":"reader@example.com","isSubscribed":false,"subscriptionType":null}`, string(raw))
}
