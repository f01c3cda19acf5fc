package domain

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFulfilled,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

type OrderEvent string

const (
	EventPaymentConfirmed      OrderEvent = "payment_confirmed"
	EventPaymentFailed         OrderEvent = "payment_failed"
	EventFulfillmentDispatched OrderEvent = "fulfillment_dispatched"
	EventDeliveryConfirmed     OrderEvent = "delivery_confirmed"
	EventRefundIssued          OrderEvent = "refund_issued"
)

func (e OrderEvent) IsValid() bool {
	switch e {
	case EventPaymentConfirmed, EventPaymentFailed, EventFulfillmentDispatched,
		EventDeliveryConfirmed, EventRefundIssued:
		return true
	}
	return false
}

func (e OrderEvent) String() string {
	return string(e)
}

type transitionKey struct {
	from  OrderStatus
	event OrderEvent
}

var transitions = map[transitionKey]OrderStatus{
	{OrderStatusPending, EventPaymentConfirmed}:    OrderStatusPaid,
	{OrderStatusPending, EventPaymentFailed}:       OrderStatusCancelled,
	{OrderStatusPaid, EventFulfillmentDispatched}:  OrderStatusFulfilled,
	{OrderStatusFulfilled, EventDeliveryConfirmed}: OrderStatusCompleted,
	{OrderStatusPaid, EventRefundIssued}:           OrderStatusRefunded,
}

// NextStatus looks the pair up in the transition table.
// Any pair not in the table is an InvalidTransitionError.
func NextStatus(from OrderStatus, event OrderEvent) (OrderStatus, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: event}
	}
	return to, nil
}

func CanTransitionTo(from OrderStatus, event OrderEvent) bool {
	_, ok := transitions[transitionKey{from, event}]
	return ok
}

// ReachedVia reports whether status is event's target or a status that can only
// be reached after passing through it. Used to treat replayed events as no-ops.
func ReachedVia(status OrderStatus, event OrderEvent) bool {
	switch event {
	case EventPaymentConfirmed:
		return status == OrderStatusPaid || status == OrderStatusFulfilled ||
			status == OrderStatusCompleted || status == OrderStatusRefunded
	default:
		return false
	}
}
