package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/orbitalapp/minutes-ledger/internal/api/httpx"
	"github.com/orbitalapp/minutes-ledger/internal/auth"
)

type ctxKey string

const (
	ctxAccountIDKey ctxKey = "account_id"
	ctxRoleKey      ctxKey = "role"
)

func AccountID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxAccountIDKey).(string)
	return v, ok
}

func Role(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRoleKey).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM              *auth.TokenManager
	AdminAPIKeyHash string
}

func NewAuthMiddleware(tm *auth.TokenManager, adminAPIKeyHash string) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, AdminAPIKeyHash: adminAPIKeyHash}
}

// Auth verifies a Bearer token from the identity provider and puts the
// account id on the request context.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		claims, err := m.TM.Parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccountIDKey, claims.AccountID)
		ctx = context.WithValue(ctx, ctxRoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminKey gates the admin surface on the X-API-Key header.
func (m *AuthMiddleware) AdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.AdminAPIKeyHash == "" {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "admin API disabled", nil)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" || !auth.VerifyAPIKey(key, m.AdminAPIKeyHash) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid api key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
