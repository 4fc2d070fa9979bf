package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the frontend origin. Without one configured every origin is
// allowed, which suits local development.
func CORS(frontendURL string) func(http.Handler) http.Handler {
	origins := []string{"*"}
	if frontendURL != "" {
		origins = []string{frontendURL}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Paystack-Signature"},
		AllowCredentials: frontendURL != "",
		MaxAge:           300,
	})
}
