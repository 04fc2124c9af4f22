package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/example/authgate/internal/http/response"
	"github.com/example/authgate/internal/observability"
	"github.com/example/authgate/internal/security"
	"github.com/example/authgate/internal/service"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
	// AccessTokenContextKey carries the raw token so logout can blacklist it.
	AccessTokenContextKey contextKey = "access_token"
)

// AccessVerifier is the hot-path contract: one codec verification plus one
// blacklist lookup.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, accessToken string) (*security.Claims, error)
}

func AuthMiddleware(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, "access_token")
			source := "cookie"
			if raw == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					raw = strings.TrimSpace(auth[7:])
					source = "bearer"
				}
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Unauthorized(w, r)
				return
			}
			claims, err := verifier.VerifyAccess(r.Context(), raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), verifyOutcome(err), source)
				if errors.Is(err, service.ErrStoreUnavailable) {
					// Fail closed, but tell the caller this one is retryable.
					response.StoreUnavailable(w, r)
					return
				}
				response.Unauthorized(w, r)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, AccessTokenContextKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware stashes whatever access token the request carries
// without rejecting on verification failure. Logout needs this: an expired or
// already-blacklisted access token must still let the caller revoke its
// refresh token, and a repeated logout must stay a success.
func OptionalAuthMiddleware(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, "access_token")
			if raw == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					raw = strings.TrimSpace(auth[7:])
				}
			}
			ctx := r.Context()
			if raw != "" {
				ctx = context.WithValue(ctx, AccessTokenContextKey, raw)
				if claims, err := verifier.VerifyAccess(ctx, raw); err == nil {
					ctx = context.WithValue(ctx, ClaimsContextKey, claims)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func AccessTokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(AccessTokenContextKey).(string)
	return raw
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrExpiredToken):
		return "expired"
	case errors.Is(err, service.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "store_error"
	default:
		return "invalid"
	}
}
