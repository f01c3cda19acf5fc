package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type SessionRequest struct {
	OrderID    uuid.UUID
	UserID     int64
	Amount     int64
	Currency   string
	CouponCode string
}

type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Outcome is a payment result reported by the provider for one order.
type Outcome struct {
	EventID   string
	OrderID   uuid.UUID
	SessionID string
	Paid      bool
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// LookupSession reports the current outcome of a session. Paid is false while unpaid.
	LookupSession(ctx context.Context, sessionID string) (*Outcome, error)
	// ParseWebhook verifies the signature. A nil outcome means the event is not about payment.
	ParseWebhook(payload []byte, signature string) (*Outcome, error)
}

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed payment event")
)

// permanentError marks failures that retrying cannot fix, such as rejected parameters.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
