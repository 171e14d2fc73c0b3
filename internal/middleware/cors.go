package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows the browser client on the given origins to call the API with
// its session cookie attached.
func CORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Session-ID"},
		MaxAge:           600,
	})
	return c.Handler
}
