package httpserver

import (
	"net/http"
	"strings"
)

// sensitivePrefixes never receive CORS headers, even on a matching preflight,
// per spec.md's explicit exclusion list.
var sensitivePrefixes = []string{
	"/exec",
	"/v1/fetch",
	"/v1/browser/",
	"/v1/docker/",
	"/v1/code/execute",
	"/control/",
}

func isSensitivePath(path string) bool {
	for _, p := range sensitivePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// OriginValidator reports whether origin may receive a reflected
// Access-Control-Allow-Origin. Swapped for a config-driven allowlist check by
// the caller; a nil validator allows nothing.
type OriginValidator func(origin string) bool

// cors returns a middleware that answers CORS preflight requests and adds
// Access-Control-Allow-Origin to matching non-preflight responses, grounded
// on spec.md §4.2's preflight contract. Sensitive paths are never decorated.
func cors(validate OriginValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sensitive := isSensitivePath(r.URL.Path)
			origin := r.Header.Get("Origin")
			allowed := !sensitive && origin != "" && validate != nil && validate(origin)

			if r.Method == http.MethodOptions {
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,x-torbo-agent-id,x-torbo-platform,x-torbo-access-level")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			next.ServeHTTP(w, r)
		})
	}
}
