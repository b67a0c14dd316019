package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the session endpoints with the daemon token
// (VIVA_AUTH_TOKEN). Everything except /health sits behind it; a
// hosting runtime without the token cannot create, drive, or end an
// interview. Token comparison is constant-time.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			presented := strings.TrimPrefix(auth, prefix)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
