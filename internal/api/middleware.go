package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/jwestbrook/imageflow/internal/auth"
)

type contextKey string

const ownerIDKey contextKey = "owner_id"

// AuthMiddleware returns middleware that verifies the Authorization
// bearer token and stores the authenticated user ID in the request
// context. Tokens are stateless; no session is kept server-side.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				Unauthorized(w)
				return
			}
			userID, err := auth.Verify(key, authHeader[len(prefix):])
			if err != nil {
				Unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), ownerIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID retrieves the user ID stored in the context by AuthMiddleware.
func GetOwnerID(ctx context.Context) string {
	v, _ := ctx.Value(ownerIDKey).(string)
	return v
}
