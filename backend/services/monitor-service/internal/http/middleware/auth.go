package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"packmon/backend/services/monitor-service/internal/auth"
)

type contextKey string

const operatorKey contextKey = "operator"

// AuthMiddleware requires a valid operator bearer token.
func AuthMiddleware(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization header")
				return
			}

			claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the authenticated operator name.
func OperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorKey).(string)
	return op, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
