// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/pkg/logger"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id.
	UserIDKey ContextKey = "user_id"
	// UserKey is the context key for the authenticated user identity.
	UserKey ContextKey = "user"
)

// Gate failure messages.
const (
	MsgNoToken      = "not authorized, no token"
	MsgTokenFailed  = "not authorized, token failed"
	MsgUserNotFound = "user not found"
)

type tokenVerifier interface {
	Verify(token string) (string, error)
}

type userGetter interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Auth creates the authentication gate. The session cookie is checked
// first, then the Authorization: Bearer header. The wrapped handler runs
// only for a verified token whose user still exists.
func Auth(tokens tokenVerifier, users userGetter, cookieName string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				writeError(w, http.StatusUnauthorized, MsgNoToken)
				return
			}

			userID, err := tokens.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, MsgTokenFailed)
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, MsgUserNotFound)
					return
				}
				log.Error("auth gate: load user", zap.String("user_id", userID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
			ctx = context.WithValue(ctx, UserKey, user.Public())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest extracts the session token: cookie first, then bearer.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUser gets the authenticated user identity from context.
func GetUser(ctx context.Context) (model.PublicUser, bool) {
	u, ok := ctx.Value(UserKey).(model.PublicUser)
	return u, ok
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
