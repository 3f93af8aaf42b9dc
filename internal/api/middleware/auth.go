package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/yogi2103/zulip/internal/crypto"
	"github.com/yogi2103/zulip/internal/models"
)

type contextKey string

const UserContextKey contextKey = "user"

// Auth headers.
const (
	HeaderUserID = "X-User-ID"
	bearerPrefix = "Bearer "
)

// UserLookup finds users by ID.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// AuthMiddleware verifies API keys on authenticated endpoints.
type AuthMiddleware struct {
	users UserLookup
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(users UserLookup) *AuthMiddleware {
	return &AuthMiddleware{users: users}
}

// RequireAuth resolves the acting user from the X-User-ID header and a
// bearer API key, and stores it in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userIDStr := r.Header.Get(HeaderUserID)
		authz := r.Header.Get("Authorization")

		if userIDStr == "" || !strings.HasPrefix(authz, bearerPrefix) {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			jsonError(w, http.StatusUnauthorized, "invalid user ID format")
			return
		}

		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil || user == nil {
			// Same answer for unknown users and wrong keys
			jsonError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		key := strings.TrimSpace(strings.TrimPrefix(authz, bearerPrefix))
		if err := crypto.VerifyAPIKey(user.APIKeyHash, key); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"result": "error", "msg": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// WithUser returns a copy of ctx carrying user, as RequireAuth does.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
