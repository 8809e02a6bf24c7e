// Package auth provides JWT bearer authentication for the user-facing
// endpoints (devices, preferences, sessions). Token issuance belongs to the
// identity provider; this package only verifies.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tribeapp/tribe-api/internal/api/respond"
)

type contextKey string

const userIDKey contextKey = "user_id"

// JWT verifies HMAC-signed bearer tokens.
type JWT struct {
	secret []byte
}

// New creates a verifier for the shared signing secret.
func New(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Middleware validates the Authorization header and attaches the user ID to
// the request context.
func (j *JWT) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format")
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return j.secret, nil
		})
		if err != nil || !token.Valid {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token claims")
			return
		}
		rawID, _ := claims["user_id"].(string)
		userID, err := uuid.Parse(rawID)
		if err != nil {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid user identity")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// UserID extracts the authenticated user from the request context.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
