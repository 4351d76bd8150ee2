package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenMiddleware requires the configured bearer token on every request. The
// token may also be passed as ?token= because browser EventSource clients
// cannot set headers. An empty token disables the check.
func TokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if auth := r.Header.Get("Authorization"); auth != "" {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
			if got == "" {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
