package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/torbolabs/torbobase/internal/access"
	"github.com/torbolabs/torbobase/internal/auth"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/ratelimit"
)

// AgentLevelResolver looks up an agent's configured access level by ID, used
// to compute the effective level for agent-scoped routes (chat completions,
// fetch, code execution). Supplied by the caller (cmd/gatewayd) over whatever
// agent-config store it wires up; httpserver has no opinion on storage.
type AgentLevelResolver func(agentID string) (level gatewaytypes.AccessLevel, ok bool)

// Deps are the Router's collaborators, each already constructed by the
// caller — the Router composes them, it does not own their lifecycle.
type Deps struct {
	Authenticator  *auth.Authenticator
	Guard          *access.Guard
	GeneralLimiter *ratelimit.Limiter
	PairLimiter    *ratelimit.Limiter
	AgentLevels    AgentLevelResolver
	CORSOrigins    OriginValidator
	PairingCode    string
	ServiceName    string
	ServiceVersion string
	Logger         *slog.Logger
}

// Router dispatches by (method, path) via http.ServeMux's Go 1.22+ pattern
// syntax, wrapping handlers in the request-scoped middleware chain: remote
// address normalization, CORS, logging, then (for protected routes) rate
// limiting, authentication, and access-level enforcement.
type Router struct {
	mux  *http.ServeMux
	deps Deps
}

// New builds a Router with the core pre-auth and admin routes registered.
// Agent-scoped routes (/v1/chat/completions, /v1/models, /v1/fetch) are
// registered separately by the caller via Handle, once their handlers exist;
// code execution has no route of its own and runs only as a tool.
func New(deps Deps) *Router {
	rt := &Router{mux: http.NewServeMux(), deps: deps}
	rt.registerCore()
	return rt
}

// Handler returns the fully wrapped http.Handler ready to pass to
// http.Server / httpserver.Server.
func (rt *Router) Handler() http.Handler {
	return chain(remoteAddr, cors(rt.deps.CORSOrigins), requestLog(rt.deps.Logger))(rt.mux)
}

// Mux exposes the underlying ServeMux for registering additional routes
// outside the standard protected-route shape (e.g. streaming handlers that
// need the raw ResponseWriter before any buffering middleware runs).
func (rt *Router) Mux() *http.ServeMux { return rt.mux }

// Handle registers a protected route: rate limit, then authenticate, then
// enforce minLevel via AccessGuard (computing the effective level from the
// caller's agent header and the principal resolved by AuthMW).
func (rt *Router) Handle(pattern string, minLevel gatewaytypes.AccessLevel, h http.HandlerFunc) {
	wrapped := chain(
		rateLimited(rt.deps.GeneralLimiter),
		authenticate(rt.deps.Authenticator),
		rt.enforceLevel(minLevel),
	)(h)
	rt.mux.Handle(pattern, wrapped)
}

// enforceLevel computes the effective access level for the request and
// rejects it before the wrapped handler runs, auditing exactly once via
// AccessGuard.Check.
func (rt *Router) enforceLevel(minLevel gatewaytypes.AccessLevel) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromContext(r.Context())
			principal, _ := auth.PrincipalFromContext(r.Context())
			agentID := r.Header.Get("x-torbo-agent-id")

			agentLevel := gatewaytypes.LevelFull
			if agentID != "" && rt.deps.AgentLevels != nil {
				if lvl, ok := rt.deps.AgentLevels(agentID); ok {
					agentLevel = lvl
				}
			} else if principal.Kind == "session" {
				agentLevel = gatewaytypes.LevelChat
			}

			requestedLevel := gatewaytypes.LevelFull
			if h := r.Header.Get("x-torbo-access-level"); h != "" {
				if n, err := parseLevelHeader(h); err == nil {
					requestedLevel = gatewaytypes.ParseAccessLevel(n)
				}
			}

			decision := rt.deps.Guard.Check(ip, r.Method, r.URL.Path, minLevel, agentLevel, requestedLevel, agentID, principal.Kind == "cloud")
			if !decision.Granted {
				writeErrorMessage(w, decision.Status, decision.Detail)
				return
			}
			r = r.WithContext(WithEffectiveLevel(r.Context(), decision.Effective))
			next.ServeHTTP(w, r)
		})
	}
}

func parseLevelHeader(v string) (int, error) {
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, &gatewaytypes.ErrParse{Detail: "invalid x-torbo-access-level"}
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
