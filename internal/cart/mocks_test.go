package cart

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
)

type mockCache struct {
	m       sync.Mutex
	carts   map[int64]*domain.Cart
	sets    int
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[int64]*domain.Cart)}
}

func (c *mockCache) Get(_ context.Context, userID int64) (*domain.Cart, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if cart, ok := c.carts[userID]; ok {
		return cart.Clone(), nil
	}
	return nil, cache.ErrCacheMiss
}

func (c *mockCache) Set(_ context.Context, cart *domain.Cart) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.sets++
	c.carts[cart.UserID] = cart.Clone()
	return nil
}

func (c *mockCache) Delete(_ context.Context, userID int64) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.deletes++
	delete(c.carts, userID)
	return nil
}

// conflictingRepo fails the first n saves with a version conflict.
type conflictingRepo struct {
	r.CartRepository
	m         sync.Mutex
	conflicts int
	saves     int
}

func (c *conflictingRepo) SaveCart(ctx context.Context, cart *domain.Cart) error {
	c.m.Lock()
	c.saves++
	if c.conflicts > 0 {
		c.conflicts--
		c.m.Unlock()
		return r.ErrVersionConflict
	}
	c.m.Unlock()
	return c.CartRepository.SaveCart(ctx, cart)
}
