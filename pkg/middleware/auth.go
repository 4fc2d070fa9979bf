package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"carconnect-api/pkg/utils"

	"go.uber.org/zap"
)

// AdminToken guards admin routes with a static bearer token. An empty token
// disables the routes entirely.
func AdminToken(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				logger.Warn("Admin route called but ADMIN_API_TOKEN is not configured",
					zap.String("path", r.URL.Path))
				utils.ResponseForbidden(w, "Admin access is disabled")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.ResponseUnauthorized(w, "Missing authorization token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				utils.ResponseUnauthorized(w, "Invalid token format. Use: Bearer <token>")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				logger.Warn("Admin check: invalid token",
					zap.String("path", r.URL.Path),
					zap.String("ip", r.RemoteAddr))
				utils.ResponseForbidden(w, "Admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
