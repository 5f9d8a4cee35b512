package magiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces magic-link keys.
const DefaultKeyPrefix = "healthydb:magiclink:"

// RedisStore keeps records in Redis with a key TTL. Consume uses GETDEL.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore builds a RedisStore. An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisStore) Save(ctx context.Context, tokenHash string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrConfig
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// NX: a hash collision must never overwrite a live link.
	ok, err := s.rdb.SetNX(ctx, s.key(tokenHash), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: key exists", ErrStoreUnavailable)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, tokenHash string) (Record, error) {
	data, err := s.rdb.GetDel(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("magiclink: decode record: %w", err)
	}
	return rec, nil
}
