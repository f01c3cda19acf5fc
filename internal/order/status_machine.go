// Package order drives orders through the status table.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusBroadcaster announces accepted transitions to realtime subscribers.
type StatusBroadcaster interface {
	Publish(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus)
}

// TransitionHook runs after a transition is stored and broadcast.
// Hooks cannot fail the transition.
type TransitionHook func(ctx context.Context, order *domain.Order, transition domain.StatusTransition)

type ApplyOptions struct {
	TrackingNumber string
}

// StatusChange is the outbox payload of one accepted transition.
type StatusChange struct {
	OrderID        string             `json:"order_id"`
	UserID         int64              `json:"user_id"`
	From           domain.OrderStatus `json:"from"`
	To             domain.OrderStatus `json:"to"`
	Event          domain.OrderEvent  `json:"event"`
	FinalTotal     int64              `json:"final_total"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	At             time.Time          `json:"at"`
}

type StatusMachine struct {
	orders      r.OrderRepository
	broadcaster StatusBroadcaster
	hooks       []TransitionHook
	now         func() time.Time
	logger      *zap.Logger
}

func NewStatusMachine(orders r.OrderRepository, broadcaster StatusBroadcaster, logger *zap.Logger) *StatusMachine {
	return &StatusMachine{
		orders:      orders,
		broadcaster: broadcaster,
		now:         time.Now,
		logger:      logger,
	}
}

// OnTransition registers a hook. Not safe to call once Apply is in use.
func (m *StatusMachine) OnTransition(hook TransitionHook) {
	m.hooks = append(m.hooks, hook)
}

func (m *StatusMachine) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, err := m.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, r.ErrOrderNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// Apply moves the order along the table. A replayed payment confirmation on an
// order that is already past it returns the order unchanged.
func (m *StatusMachine) Apply(ctx context.Context, orderID uuid.UUID, event domain.OrderEvent, opts ApplyOptions) (*domain.Order, error) {
	if !event.IsValid() {
		return nil, &domain.ValidationError{Field: "event", Reason: fmt.Sprintf("unknown event %q", event)}
	}

	current, err := m.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if domain.ReachedVia(current.Status, event) {
		m.logger.Info("duplicate order event ignored",
			zap.String("order_id", orderID.String()),
			zap.String("event", event.String()),
			zap.String("status", current.Status.String()))
		return current, nil
	}

	write, err := m.prepare(current, event, opts)
	if err != nil {
		return nil, err
	}

	if err := m.orders.ApplyTransition(ctx, write); err != nil {
		if !errors.Is(err, r.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to store transition: %w", err)
		}
		return m.resolveConflict(ctx, current, event)
	}

	next := write.Order
	m.logger.Info("order status changed",
		zap.String("order_id", orderID.String()),
		zap.String("from", write.Transition.From.String()),
		zap.String("to", write.Transition.To.String()),
		zap.String("event", event.String()))

	m.broadcaster.Publish(ctx, next.ID, next.Status)
	for _, hook := range m.hooks {
		hook(ctx, next, write.Transition)
	}
	return next, nil
}

func (m *StatusMachine) prepare(current *domain.Order, event domain.OrderEvent, opts ApplyOptions) (r.TransitionWrite, error) {
	to, err := domain.NextStatus(current.Status, event)
	if err != nil {
		return r.TransitionWrite{}, err
	}

	now := m.now().UTC()
	transition := domain.StatusTransition{From: current.Status, To: to, Event: event, At: now}

	next := *current
	next.Status = to
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.Transitions = append(append([]domain.StatusTransition(nil), current.Transitions...), transition)
	if event == domain.EventFulfillmentDispatched && opts.TrackingNumber != "" {
		next.TrackingNumber = opts.TrackingNumber
	}

	effect := r.CouponEffectNone
	if next.Snapshot.CouponCode != "" {
		switch to {
		case domain.OrderStatusPaid:
			effect = r.CouponEffectConsume
		case domain.OrderStatusCancelled:
			effect = r.CouponEffectRelease
		}
	}

	payload, err := json.Marshal(StatusChange{
		OrderID:        next.ID.String(),
		UserID:         next.UserID,
		From:           transition.From,
		To:             transition.To,
		Event:          event,
		FinalTotal:     next.Snapshot.FinalTotal,
		TrackingNumber: next.TrackingNumber,
		At:             now,
	})
	if err != nil {
		return r.TransitionWrite{}, fmt.Errorf("failed to marshal status change: %w", err)
	}

	return r.TransitionWrite{
		Order:           &next,
		ExpectedVersion: current.Version,
		Transition:      transition,
		CouponEffect:    effect,
		Event: &domain.StatusEvent{
			OrderID:   next.ID,
			EventType: domain.StatusChangedEventType,
			Payload:   payload,
			CreatedAt: now,
		},
	}, nil
}

// resolveConflict re-reads once after a lost write. If the winner moved the
// status, the event is judged against the new status.
func (m *StatusMachine) resolveConflict(ctx context.Context, stale *domain.Order, event domain.OrderEvent) (*domain.Order, error) {
	latest, err := m.Get(ctx, stale.ID)
	if err != nil {
		return nil, err
	}
	if latest.Status != stale.Status {
		if domain.ReachedVia(latest.Status, event) {
			return latest, nil
		}
		return nil, &domain.InvalidTransitionError{From: latest.Status, Event: event}
	}
	return nil, &domain.ConflictError{Resource: "order", ID: stale.ID.String()}
}
