package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/torbolabs/torbobase/internal/auth"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// registerCore wires the pre-auth routes (health, level, pairing) and the
// admin-only /control/level route. None of these are agent-scoped, so they
// bypass Handle's per-agent level computation.
func (rt *Router) registerCore() {
	rt.mux.HandleFunc("GET /", rt.handleHealth)
	rt.mux.HandleFunc("GET /health", rt.handleHealth)
	rt.mux.HandleFunc("GET /level", rt.handleLevel)

	rt.mux.Handle("POST /pair", chain(rateLimited(rt.deps.PairLimiter))(http.HandlerFunc(rt.handlePair)))
	rt.mux.HandleFunc("POST /pair/verify", rt.handlePairVerify)
	rt.mux.Handle("POST /pair/auto", chain(rateLimited(rt.deps.PairLimiter))(http.HandlerFunc(rt.handlePairAuto)))

	rt.mux.Handle("POST /control/level", chain(
		rateLimited(rt.deps.GeneralLimiter),
		authenticate(rt.deps.Authenticator),
		rt.requireAdmin,
	)(http.HandlerFunc(rt.handleControlLevel)))
}

// requireAdmin accepts only the master-token or loopback principal kinds —
// /control/level has no associated agent, so it is gated on credential kind
// rather than AccessGuard's per-agent level computation.
func (rt *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok || (principal.Kind != "master" && principal.Kind != "loopback") {
			writeErrorMessage(w, http.StatusForbidden, "Access level 5 (FULL) required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth never reveals network identity to an unauthenticated caller;
// trusted-network fields are added only once AuthMW has run (spec.md §4.2's
// privacy contract for /health).
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"service": rt.deps.ServiceName,
		"version": rt.deps.ServiceVersion,
	}

	ip := ClientIPFromContext(r.Context())
	bearer := bearerToken(r)
	if principal, err := rt.deps.Authenticator.Authenticate(ip, bearer); err == nil {
		resp["tailscaleIP"] = ip
		resp["trusted"] = principal.Trusted
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLevel reports only whether the gateway is active, never the numeric
// dial value (spec.md §6: "MUST NOT reveal the numeric level").
func (rt *Router) handleLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"active": rt.deps.Guard.GlobalLevel() != gatewaytypes.LevelOff})
}

type pairRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
}

type pairResponse struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
}

func (rt *Router) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if rt.deps.PairingCode == "" || subtle.ConstantTimeCompare([]byte(req.Code), []byte(rt.deps.PairingCode)) != 1 {
		writeErrorMessage(w, http.StatusForbidden, "invalid pairing code")
		return
	}

	token, deviceID, err := rt.deps.Authenticator.Pair(req.DeviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{Token: token, DeviceID: deviceID})
}

type pairVerifyRequest struct {
	Token string `json:"token"`
}

func (rt *Router) handlePairVerify(w http.ResponseWriter, r *http.Request) {
	var req pairVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": rt.deps.Authenticator.VerifyToken(req.Token)})
}

type pairAutoRequest struct {
	DeviceName string `json:"deviceName"`
}

type pairAutoResponse struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"`
}

func (rt *Router) handlePairAuto(w http.ResponseWriter, r *http.Request) {
	var req pairAutoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ip := ClientIPFromContext(r.Context())
	token, deviceID, status, err := rt.deps.Authenticator.AutoPair(ip, req.DeviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairAutoResponse{Token: token, DeviceID: deviceID, Status: status})
}

type controlLevelRequest struct {
	Level int `json:"level"`
}

func (rt *Router) handleControlLevel(w http.ResponseWriter, r *http.Request) {
	var req controlLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	level := gatewaytypes.ParseAccessLevel(req.Level)
	rt.deps.Guard.SetGlobalLevel(level)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"level":  int(level),
		"name":   level.String(),
	})
}
