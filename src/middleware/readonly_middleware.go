package middleware

import (
	"net/http"
)

// ReadOnlyMiddleware rejects mutating requests while maintenance passes run.
// Super admins and the listed POST paths (provider webhooks) still pass.
func ReadOnlyMiddleware(readOnly bool, allowedPosts ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedPosts))
	for _, p := range allowedPosts {
		allowed[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !readOnly || r.Method == http.MethodGet || r.Method == http.MethodOptions || IsSuperAdmin(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodPost && allowed[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "read-only mode: only GET requests are allowed", http.StatusServiceUnavailable)
		})
	}
}
