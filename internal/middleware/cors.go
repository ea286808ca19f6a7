// Package middleware provides HTTP middleware for the tutor API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/dreamtree-labs/lsa-tutor/internal/identity"
)

// CORS returns middleware that lets the listed origins call the API with the learner cookie.
// An empty list disables cross-origin access; "*" allows any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowedHeaders := strings.Join([]string{"Content-Type", identity.SessionHeaderName}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}

			explicit, wildcard := matchOrigin(allowedOrigins, origin)
			if origin != "" && (explicit || wildcard) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				// Credentials only for explicit origins; a reflected wildcard would enable CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchOrigin(allowed []string, origin string) (explicit, wildcard bool) {
	for _, o := range allowed {
		switch {
		case o == origin:
			explicit = true
		case o == "*":
			wildcard = true
		}
	}
	return explicit, wildcard
}
