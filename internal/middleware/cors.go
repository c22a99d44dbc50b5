package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows browser clients from origins to call the API. A "*" entry allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	})
	return c.Handler
}
