package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated caller. The core trusts it as given.
type Identity struct {
	UserID int64
	Roles  []domain.Role
}

// Claims carries the user id in sub and role names in roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, errors.Join(ErrInvalidToken, errors.New("sub must be a positive user id"))
	}

	roles := make([]domain.Role, 0, len(claims.Roles))
	for _, name := range claims.Roles {
		// unknown roles grant nothing
		if role, ok := domain.ParseRole(name); ok {
			roles = append(roles, role)
		}
	}
	return Identity{UserID: userID, Roles: roles}, nil
}

// Sign issues a token. Tests and local tooling only; the service never issues tokens.
func (v *TokenVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	names := make([]string, len(id.Roles))
	for i, role := range id.Roles {
		names[i] = string(role)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: names,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken.Error())
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", ErrInvalidToken.Error())
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = logger.WithContext(ctx, logger.FromContext(ctx, zap.L()).With(zap.Int64("user_id", id.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles lets the request through when the caller holds any of the roles.
func RequireRoles(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
				return
			}
			if !domain.HasRequiredRole(id.Roles, roles) {
				respondError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger attaches a request-scoped logger and logs each finished request.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLogger := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ctx := logger.WithContext(r.Context(), reqLogger)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
			}
			if status >= http.StatusInternalServerError {
				reqLogger.Error("request completed", fields...)
				return
			}
			reqLogger.Info("request completed", fields...)
		})
	}
}
