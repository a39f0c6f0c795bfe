// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/carterperez-dev/goldsave/internal/core"
)

const principalKey contextKey = "principal"

const RoleAdmin = "admin"

type TokenVerifier interface {
	VerifyAccessToken(
		ctx context.Context,
		token string,
	) (*AccessTokenClaims, error)
}

// AccessTokenClaims is what a verified access token says about its bearer.
// Tokens are stateless, so these claims are not tied to a session row.
type AccessTokenClaims struct {
	UserID string
	Email  string
	Role   string
}

// Authenticator rejects requests without a valid bearer access token and
// stores the claims on the request context.
func Authenticator(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("missing authorization token"),
				)
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				writeTokenError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuth attaches claims when a valid token is present and lets the
// request through either way.
func OptionalAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := ExtractToken(r); token != "" {
				claims, err := verifier.VerifyAccessToken(r.Context(), token)
				if err == nil {
					r = r.WithContext(WithClaims(r.Context(), claims))
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				core.JSONError(w, core.UnauthorizedError(""))
				return
			}

			if _, ok := allowed[claims.Role]; !ok {
				core.JSONError(
					w,
					core.ForbiddenError("insufficient permissions"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

// WithClaims returns ctx carrying claims and tags the active span with the
// caller's user id.
func WithClaims(ctx context.Context, claims *AccessTokenClaims) context.Context {
	if claims == nil {
		return ctx
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("enduser.id", claims.UserID),
		attribute.String("enduser.role", claims.Role),
	)
	return context.WithValue(ctx, principalKey, claims)
}

func ClaimsFrom(ctx context.Context) (*AccessTokenClaims, bool) {
	claims, ok := ctx.Value(principalKey).(*AccessTokenClaims)
	return claims, ok && claims != nil
}

// ExtractToken returns the bearer credential from the Authorization header,
// or "" when the header is absent or uses another scheme.
func ExtractToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeTokenError(w http.ResponseWriter, err error) {
	var appErr *core.AppError
	switch {
	case errors.As(err, &appErr):
		core.JSONError(w, appErr)
	case errors.Is(err, core.ErrTokenExpired):
		core.JSONError(w, core.TokenExpiredError())
	default:
		core.JSONError(w, core.TokenInvalidError())
	}
}

func GetUserID(ctx context.Context) string {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.UserID
	}
	return ""
}
