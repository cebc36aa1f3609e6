package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chattrain/chattrain/internal/api/response"
)

type contextKey string

const UserIDKey contextKey = "userID"

// userIDHeader carries the trainee identity assigned by the fronting
// gateway. This service trusts it as-is; credential handling lives
// upstream.
const userIDHeader = "X-User-ID"

// Identity extracts the trainee id from the request header and adds it
// to the context. Requests without an identity are refused.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(userIDHeader))
		if userID == "" {
			response.Error(w, http.StatusUnauthorized, response.ErrorBody{
				Code:    "missing_identity",
				Message: "missing " + userIDHeader + " header",
			})
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID gets the trainee id from context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}
