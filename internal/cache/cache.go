package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, userID int64) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, userID int64) error
}

// IdempotencyStore remembers which external callbacks were already handled.
type IdempotencyStore interface {
	// MarkProcessed returns false when the key was already marked.
	MarkProcessed(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCartCache always misses. Used when Redis is not configured.
type NoopCartCache struct{}

func (NoopCartCache) Get(context.Context, int64) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NoopCartCache) Set(context.Context, *domain.Cart) error { return nil }

func (NoopCartCache) Delete(context.Context, int64) error { return nil }

// MemoryIdempotencyStore is the single-process fallback for IdempotencyStore.
type MemoryIdempotencyStore struct {
	seen sync.Map
}

func (s *MemoryIdempotencyStore) MarkProcessed(_ context.Context, key string) (bool, error) {
	_, loaded := s.seen.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

func (s *MemoryIdempotencyStore) Forget(_ context.Context, key string) error {
	s.seen.Delete(key)
	return nil
}
