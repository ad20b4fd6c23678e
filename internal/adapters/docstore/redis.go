package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mikey-austin/summarist/internal/ports"
)

const defaultRedisPrefix = "summarist"

// RedisStore keeps each collection in a hash keyed by document id and the
// profile as a JSON string.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr, which is either host:port or a redis:// URL.
func NewRedisStore(addr string, prefix string) (*RedisStore, error) {
	opts, err := redisOptions(addr)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func redisOptions(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}

func (s *RedisStore) collectionKey(userID string, coll ports.Collection) string {
	return s.prefix + ":user:" + userID + ":" + string(coll)
}

func (s *RedisStore) profileKey(userID string) string {
	return s.prefix + ":user:" + userID + ":profile"
}

// Upsert writes a document.
func (s *RedisStore) Upsert(ctx context.Context, userID string, coll ports.Collection, id string, data json.RawMessage) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	return s.client.HSet(ctx, s.collectionKey(userID, coll), id, []byte(data)).Err()
}

// Delete removes a document.
func (s *RedisStore) Delete(ctx context.Context, userID string, coll ports.Collection, id string) error {
	if err := validKey(userID, id); err != nil {
		return err
	}
	return s.client.HDel(ctx, s.collectionKey(userID, coll), id).Err()
}

// List returns a collection ordered by id.
func (s *RedisStore) List(ctx context.Context, userID string, coll ports.Collection) ([]ports.Document, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, err
	}
	values, err := s.client.HGetAll(ctx, s.collectionKey(userID, coll)).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]ports.Document, 0, len(values))
	for id, data := range values {
		docs = append(docs, ports.Document{ID: id, Data: json.RawMessage(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Profile returns the profile document.
func (s *RedisStore) Profile(ctx context.Context, userID string) (json.RawMessage, bool, error) {
	if err := validKey(userID, "-"); err != nil {
		return nil, false, err
	}
	data, err := s.client.Get(ctx, s.profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// MergeProfile overlays fields inside an optimistic WATCH transaction.
func (s *RedisStore) MergeProfile(ctx context.Context, userID string, fields map[string]any) error {
	if err := validKey(userID, "-"); err != nil {
		return err
	}
	key := s.profileKey(userID)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		merged, err := mergeJSON(existing, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.New("profile merge conflicted")
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
