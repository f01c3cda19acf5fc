package payment

import (
	"context"
	"errors"
)

var ErrPaymentsDisabled = errors.New("payments are not configured")

// DisabledGateway stands in when no Stripe key is set. Free orders still check
// out; anything that needs the provider fails without retry.
type DisabledGateway struct{}

func (DisabledGateway) CreateSession(context.Context, SessionRequest) (*Session, error) {
	return nil, Permanent(ErrPaymentsDisabled)
}

func (DisabledGateway) LookupSession(context.Context, string) (*Outcome, error) {
	return nil, Permanent(ErrPaymentsDisabled)
}

func (DisabledGateway) ParseWebhook([]byte, string) (*Outcome, error) {
	return nil, ErrInvalidSignature
}
