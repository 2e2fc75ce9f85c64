package api

import (
	"context"
	"net/http"
	"strings"

	"yankcord/internal/models"
	"yankcord/internal/persistence"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware gates the REST surface's own handlers (login excluded) the
// same way the Lifecycle Supervisor gates the WebSocket protocol: a bearer
// token verified through persistence.Service.VerifyToken, not a parallel
// session store.
type AuthMiddleware struct {
	persistence persistence.Service
}

func NewAuthMiddleware(svc persistence.Service) *AuthMiddleware {
	return &AuthMiddleware{persistence: svc}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			unauthorized(w, "Invalid authorization header format")
			return
		}

		identity, err := m.persistence.VerifyToken(r.Context(), parts[1])
		if err != nil {
			unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetIdentity(r *http.Request) (models.Identity, bool) {
	v := r.Context().Value(identityKey)
	if v == nil {
		return models.Identity{}, false
	}
	identity, ok := v.(models.Identity)
	return identity, ok
}
