package docstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey-austin/summarist/internal/ports"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test")
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestRedisStoreDocuments(t *testing.T) {
	mr, store := setupMiniRedis(t)
	exerciseDocuments(t, store)
	assert.True(t, mr.Exists("test:user:u1:library"))
}

func TestRedisStoreProfileMerge(t *testing.T) {
	_, store := setupMiniRedis(t)
	exerciseProfile(t, store)
}

func TestRedisStoreOpenByAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), "")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Upsert(context.Background(), "u1", ports.CollectionFinished, "b1", json.RawMessage(`{"id":"b1"}`)))
	assert.True(t, mr.Exists("summarist:user:u1:finished"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(addr, "")
	require.Error(t, err)
}
