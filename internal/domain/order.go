package domain

import (
	"time"

	"github.com/google/uuid"
)

type StatusTransition struct {
	From  OrderStatus `json:"from"`
	To    OrderStatus `json:"to"`
	Event OrderEvent  `json:"event"`
	At    time.Time   `json:"at"`
}

// Order holds a frozen PricedCart. Only Status and its bookkeeping change after creation.
type Order struct {
	ID               uuid.UUID
	UserID           int64
	Snapshot         PricedCart
	Status           OrderStatus
	PaymentSessionID string
	TrackingNumber   string
	Version          int64
	Transitions      []StatusTransition
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPendingOrder freezes the priced cart into a new order.
func NewPendingOrder(userID int64, priced PricedCart, now time.Time) *Order {
	snapshot := priced
	snapshot.Items = append([]PricedItem(nil), priced.Items...)
	return &Order{
		ID:        uuid.New(),
		UserID:    userID,
		Snapshot:  snapshot,
		Status:    OrderStatusPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StatusEvent is the outbox record written alongside every accepted transition.
type StatusEvent struct {
	ID          int64
	OrderID     uuid.UUID
	EventType   string
	Payload     []byte
	Attempts    int
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

const StatusChangedEventType = "order.status_changed"
