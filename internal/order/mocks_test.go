package order

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
)

type published struct {
	orderID uuid.UUID
	status  domain.OrderStatus
}

type mockBroadcaster struct {
	mu    sync.Mutex
	calls []published
}

func (b *mockBroadcaster) Publish(_ context.Context, orderID uuid.UUID, status domain.OrderStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, published{orderID, status})
}

func (b *mockBroadcaster) statuses() []domain.OrderStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.OrderStatus, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.status)
	}
	return out
}

// interleavingRepo lets a competing transition land right before the first write.
type interleavingRepo struct {
	r.OrderRepository
	once    sync.Once
	compete func(ctx context.Context)
}

func (i *interleavingRepo) ApplyTransition(ctx context.Context, w r.TransitionWrite) error {
	i.once.Do(func() { i.compete(ctx) })
	return i.OrderRepository.ApplyTransition(ctx, w)
}
