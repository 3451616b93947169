package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/torbolabs/torbobase/internal/auth"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/ratelimit"
)

// Middleware wraps an http.Handler, generalizing the teacher's functional-
// options idiom (type Option func(*App) in app.go) to request-handler
// composition.
type Middleware func(http.Handler) http.Handler

// chain applies middlewares in the order given, so chain(a, b)(h) runs a
// first, then b, then h.
func chain(mws ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		h := final
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

type clientIPKey struct{}

// WithClientIP returns a copy of ctx carrying the normalized client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the normalized client IP attached by
// remoteAddr, or "" if absent.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

type effectiveLevelKey struct{}

// WithEffectiveLevel attaches the access level computed by enforceLevel so
// handlers downstream (chatpipeline's tool-injection stage) don't have to
// recompute it.
func WithEffectiveLevel(ctx context.Context, level gatewaytypes.AccessLevel) context.Context {
	return context.WithValue(ctx, effectiveLevelKey{}, level)
}

// EffectiveLevelFromContext returns the level attached by Handle's
// enforceLevel middleware, or LevelOff if absent.
func EffectiveLevelFromContext(ctx context.Context) gatewaytypes.AccessLevel {
	l, _ := ctx.Value(effectiveLevelKey{}).(gatewaytypes.AccessLevel)
	return l
}

// remoteAddr normalizes r.RemoteAddr (strip port, IPv6 brackets) and attaches
// it to the request context before any downstream use, per spec.md §4.1.
func remoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := auth.NormalizeRemoteAddr(r.RemoteAddr)
		r = r.WithContext(WithClientIP(r.Context(), ip))
		next.ServeHTTP(w, r)
	})
}

// requestLog logs one line per request at Info level: method, path, status,
// duration, client IP — the teacher's cmd/sandbox logs similarly with
// log.Printf, generalized here to structured log/slog fields.
func requestLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if logger != nil {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", sw.status,
					"duration_ms", time.Since(start).Milliseconds(),
					"client_ip", ClientIPFromContext(r.Context()),
				)
			}
		})
	}
}

// statusWriter captures the status code written through an http.ResponseWriter
// for logging, without otherwise altering its behavior.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// rateLimited rejects requests once limiter.Allow(ip) reports the per-IP
// window exceeded, per spec.md §4.4.
func rateLimited(limiter *ratelimit.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromContext(r.Context())
			if !limiter.Allow(ip) {
				writeError(w, &gatewaytypes.ErrRateLimit{RetryAfter: 60 * time.Second})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate resolves the caller's Principal via Authenticator and attaches
// it to the request context, failing with 401 on no match. Pre-auth routes
// (health, /level, pairing) never pass through this middleware.
func authenticate(authn *auth.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromContext(r.Context())
			bearer := bearerToken(r)

			principal, err := authn.Authenticate(ip, bearer)
			if err != nil {
				writeError(w, err)
				return
			}
			r = r.WithContext(auth.WithPrincipal(r.Context(), principal))
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
