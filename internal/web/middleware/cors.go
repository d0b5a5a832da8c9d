package middleware

import (
	"net/http"
	"strings"
)

// Origins is the set of browser origins allowed to call the API and open the
// liveness stream. Localhost origins on any port are always allowed.
type Origins struct {
	allowed map[string]struct{}
}

// NewOrigins builds an allowlist from exact origins such as
// "https://kiosk.example.edu".
func NewOrigins(list []string) *Origins {
	o := &Origins{allowed: make(map[string]struct{}, len(list))}
	for _, origin := range list {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			o.allowed[origin] = struct{}{}
		}
	}
	return o
}

func isLocalhostOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
		if origin == prefix || strings.HasPrefix(origin, prefix+":") {
			return true
		}
	}
	return false
}

// Allowed reports whether origin may receive CORS headers.
func (o *Origins) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if isLocalhostOrigin(origin) {
		return true
	}
	if o == nil {
		return false
	}
	_, ok := o.allowed[origin]
	return ok
}

// CORS answers preflight requests and sets CORS headers for allowed origins.
// Content-Disposition is exposed so browsers can read the export filename.
func CORS(origins *Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Requested-With")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets headers for a JSON-only API.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}
