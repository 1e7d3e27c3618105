package middleware

import "net/http"

// NoStore marks responses as uncacheable and not to be content-sniffed.
// Admin API responses carry tenant configuration that intermediaries must
// not keep.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}
