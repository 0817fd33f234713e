package localization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "localization:"

// Store is the key/value surface CachedGateway needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedGateway serves bundles from Store and falls through to Next on a miss.
// Store failures are ignored; only Next can fail a lookup.
type CachedGateway struct {
	Next  Gateway
	Store Store
	TTL   time.Duration
}

func (g *CachedGateway) GetMessageBundleForCode(ctx context.Context, code string) (Bundle, error) {
	key := cachePrefix + code
	if raw, ok, err := g.Store.Get(ctx, key); err == nil && ok {
		var cached Bundle
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	bundle, err := g.Next.GetMessageBundleForCode(ctx, code)
	if err != nil {
		return nil, err
	}
	// misses are not cached so new codes show up without waiting out the TTL
	if len(bundle) > 0 {
		if raw, err := json.Marshal(bundle); err == nil {
			_ = g.Store.Set(ctx, key, raw, g.TTL)
		}
	}
	return bundle, nil
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
