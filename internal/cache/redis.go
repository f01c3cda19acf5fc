package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

// setIfNewer only overwrites a cached cart with a strictly higher version, so a
// slow reader cannot put an older cart back after a writer stored a newer one.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func NewRedisCartCache(client *redis.Client, baseTTL time.Duration) *RedisCartCache {
	return &RedisCartCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCartCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCartCache) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	data, err := r.client.HGet(ctx, cartKey(userID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}

	return &cart, nil
}

func (r RedisCartCache) Set(ctx context.Context, cart *domain.Cart) error {
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.IntN(5)) * time.Minute
	ttl := r.baseTTL + jitter
	err = setIfNewer.Run(ctx, r.client, []string{cartKey(cart.UserID)},
		string(jsonCart), cart.Version, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCartCache) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

func NewRedisIdempotencyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Forget(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
