// Package httpapi is the REST surface: chi routes, JWT identity, DTO validation
// and the mapping from service errors to HTTP responses.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON request bodies. Stripe webhooks get their own limit.
const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON reads and validates a request DTO. It writes the 400 itself and
// returns false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    "invalid_request",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

func validationDetails(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// respondServiceError is the single place service errors turn into statuses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		couponErr     *domain.CouponError
		validationErr *domain.ValidationError
		conflictErr   *domain.ConflictError
		transitionErr *domain.InvalidTransitionError
		externalErr   *domain.ExternalServiceError
	)

	switch {
	case errors.As(err, &couponErr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   couponErr.Error(),
			Code:    string(couponErr.Kind),
			Details: couponErr.Code,
		})
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", domain.ErrEmptyCart.Error())
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   validationErr.Error(),
			Code:    "validation_failed",
			Details: validationErr.Field,
		})
	case errors.As(err, &transitionErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   transitionErr.Error(),
			Code:    "invalid_transition",
			Details: string(transitionErr.From),
		})
	case errors.As(err, &conflictErr):
		respondError(w, http.StatusConflict, "conflict", conflictErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "insufficient role")
	case errors.As(err, &externalErr):
		logger.FromContext(r.Context(), zap.L()).Error("external service failed",
			zap.String("service", externalErr.Service),
			zap.String("op", externalErr.Op),
			zap.Error(externalErr.Err))
		respondError(w, http.StatusBadGateway, "payment_session_error", "payment provider unavailable")
	default:
		logger.FromContext(r.Context(), zap.L()).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
