package middleware

import (
	"fmt"
	"net/http"

	"carconnect-api/pkg/utils"

	"go.uber.org/zap"
)

// Recover turns a panic into a 500 envelope. The panic value is only shown
// to clients when showDetails is set.
func Recover(logger *zap.Logger, showDetails bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("PANIC recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.Stack("stack"),
					)

					message := ""
					if showDetails {
						message = fmt.Sprint(err)
					}
					utils.ResponseError(w, http.StatusInternalServerError, "Internal server error", message, nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
