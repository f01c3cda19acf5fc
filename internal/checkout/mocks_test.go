package checkout

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/google/uuid"
)

type mockGateway struct {
	mu        sync.Mutex
	requests  []payment.SessionRequest
	createErr error
	lookup    map[string]*payment.Outcome
}

func newMockGateway() *mockGateway {
	return &mockGateway{lookup: make(map[string]*payment.Outcome)}
}

func (g *mockGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := "cs_" + req.OrderID.String()
	return &payment.Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (g *mockGateway) LookupSession(_ context.Context, sessionID string) (*payment.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out, ok := g.lookup[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	cp := *out
	return &cp, nil
}

func (g *mockGateway) ParseWebhook([]byte, string) (*payment.Outcome, error) {
	return nil, nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, uuid.UUID, domain.OrderStatus) {}

type failingIdempotency struct{}

func (failingIdempotency) MarkProcessed(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingIdempotency) Forget(context.Context, string) error { return nil }

// frozenCache always answers with the same cart, whatever was written since.
type frozenCache struct {
	cart *domain.Cart
}

func (c frozenCache) Get(context.Context, int64) (*domain.Cart, error) { return c.cart.Clone(), nil }

func (frozenCache) Set(context.Context, *domain.Cart) error { return nil }

func (frozenCache) Delete(context.Context, int64) error { return nil }
