package middleware

import (
	"net/http"
	"strings"
	"sync/atomic"
)

// Maintenance answers every request except health checks with 503 while the
// flag is set. API callers get JSON; everything else gets a short text page.
func Maintenance(enabled *atomic.Bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled == nil || !enabled.Load() || r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", "120")
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeError(w, http.StatusServiceUnavailable, "service under maintenance")
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Streamify is down for maintenance. Please check back soon.\n"))
		})
	}
}
