package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware guards the API with a single shared key. An empty key
// disables authentication.
type AuthMiddleware struct {
	APIKey string
}

func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{APIKey: apiKey}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeDetail(w, http.StatusUnauthorized, "API key required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.APIKey)) != 1 {
			writeDetail(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAPIKey accepts "ApiKey <key>", "Bearer <key>" or the api_key query
// parameter, which browsers need for WebSocket upgrades.
func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	for _, scheme := range []string{"ApiKey ", "Bearer "} {
		if strings.HasPrefix(authHeader, scheme) {
			return strings.TrimPrefix(authHeader, scheme)
		}
	}
	return r.URL.Query().Get("api_key")
}
