package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/httputil"
)

type contextKeyType string

const (
	userIDKey contextKeyType = "user_id"
	roleKey   contextKeyType = "role"
)

// Header names set by the API gateway once it has authenticated a caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Claims represents the identity extracted from a bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// Authenticate resolves the caller's identity and stores it in the request
// context. A bearer token, when present, must pass validate or the request is
// rejected with 401. Without a token and with trustHeaders set, the gateway's
// X-User-ID and X-User-Role headers are used. Otherwise the request continues
// anonymously; use RequireAuth on routes that need an identity.
func Authenticate(validate TokenValidator, trustHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if authHeader != "" && validate != nil {
				scheme, token, ok := strings.Cut(authHeader, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
					httputil.WriteError(w, r, apperrors.Unauthorized("invalid authorization header format"), nil)
					return
				}
				claims, err := validate(token)
				if err != nil || claims.UserID == "" {
					httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired token"), nil)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.UserID, claims.Role)))
				return
			}

			if trustHeaders {
				if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
					role := strings.TrimSpace(r.Header.Get(HeaderUserRole))
					r = r.WithContext(WithIdentity(r.Context(), userID, role))
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests without an identity with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose role is not in roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := roleSet[RoleFromContext(r.Context())]; !ok {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a context carrying the given user id and role.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// RoleFromContext extracts the user role from the request context.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}
