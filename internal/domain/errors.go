package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrEmptyCart = errors.New("cart is empty, nothing to checkout")
	ErrForbidden = errors.New("forbidden")
)

// ValidationError is bad cart or coupon input. It is surfaced to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// ConflictError is a version mismatch. Re-read and retry.
type ConflictError struct {
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Resource, e.ID)
}

type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

type InvalidTransitionError struct {
	From  OrderStatus
	Event OrderEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s does not accept %s", e.From, e.Event)
}

type CouponErrorKind string

const (
	CouponNotFound      CouponErrorKind = "NotFound"
	CouponExpired       CouponErrorKind = "Expired"
	CouponUsageExceeded CouponErrorKind = "UsageExceeded"
	CouponMinimumNotMet CouponErrorKind = "MinimumNotMet"
	CouponNotApplicable CouponErrorKind = "NotApplicable"
)

// CouponError is a rejected coupon. errors.As also matches it as a *ValidationError.
type CouponError struct {
	Kind CouponErrorKind
	Code string
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Kind)
}

func (e *CouponError) Unwrap() error {
	return &ValidationError{Field: "coupon", Reason: string(e.Kind)}
}

// IsCouponError reports whether err is a coupon rejection of the given kind.
func IsCouponError(err error, kind CouponErrorKind) bool {
	var ce *CouponError
	return errors.As(err, &ce) && ce.Kind == kind
}
