package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/ajo/internal/auth"
	"github.com/mmynk/ajo/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// CallerKey is the context key for the authenticated caller.
const CallerKey contextKey = "caller"

// WithCaller returns a context carrying the caller.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller extracts the caller from the context.
func GetCaller(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(models.Caller)
	return caller, ok
}

// GetUserID returns the caller's user ID, or "" before authentication.
func GetUserID(ctx context.Context) string {
	caller, _ := GetCaller(ctx)
	return caller.UserID
}

// RequireAuth returns an interceptor that validates the bearer token and
// attaches the caller to the request context. Authorization for the group
// named in the request is assumed to have happened upstream.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || token == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := jwtManager.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			return next(WithCaller(ctx, claims.Caller()), req)
		}
	}
}
