package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenVerifier resolves a bearer token to a user identifier. Token issuance
// and validation live with an external identity provider; handlers only ever
// see the resolved identifier or its absence.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type userKey string

const userIDKey userKey = "user_id"

// Auth extracts and verifies the bearer token, storing the resolved user id
// in the request context. Requests without a valid token are rejected with a
// JSON 401 before reaching any handler.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w)
				return
			}
			userID, err := verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil || userID == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Unauthorized"})
}

// UserIDFromContext returns the resolved user id, or "" when the request was
// not authenticated.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithUserID injects a resolved user id; used by tests and the auth
// middleware.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
