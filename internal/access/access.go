// Package access implements AccessGuard: per-request capability-level
// computation, route-level minimum enforcement, and audit emission. The
// teacher has no multi-tenant tiering to ground this on directly, so the
// level-capping logic is built fresh in the teacher's plain-struct-and-
// method style; the shape of "compute an effective value, cap it, decide"
// mirrors AgentConfig.CapLevel in internal/gatewaytypes.
package access

import (
	"fmt"

	"github.com/torbolabs/torbobase/internal/audit"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// Tier is the cloud billing tier used by the optional tier-enforcement hook.
type Tier int

const (
	TierNone Tier = iota
	TierFree
	TierPro
)

// TierDecision is the outcome of the cloud tier-enforcement hook.
type TierDecision int

const (
	TierAllowed TierDecision = iota
	TierDenied
	TierRateLimited
)

// TierHook maps (path, agentID, level) to a tier decision for cloud users.
// Returns TierAllowed unconditionally when tiering is not configured.
type TierHook func(path, agentID string, level gatewaytypes.AccessLevel) TierDecision

// Guard enforces AccessGuard semantics for one request.
type Guard struct {
	globalLevel gatewaytypes.AccessLevel // the gateway-wide OFF/ON dial (spec.md §4.5)
	tierHook    TierHook
	auditLog    *audit.Log
}

func New(globalLevel gatewaytypes.AccessLevel, auditLog *audit.Log, tierHook TierHook) *Guard {
	if tierHook == nil {
		tierHook = func(string, string, gatewaytypes.AccessLevel) TierDecision { return TierAllowed }
	}
	return &Guard{globalLevel: globalLevel, tierHook: tierHook, auditLog: auditLog}
}

// SetGlobalLevel updates the gateway-wide dial (POST /control/level).
func (g *Guard) SetGlobalLevel(l gatewaytypes.AccessLevel) { g.globalLevel = l }

// GlobalLevel returns the current gateway-wide dial.
func (g *Guard) GlobalLevel() gatewaytypes.AccessLevel { return g.globalLevel }

// Decision is the outcome of a Check call.
type Decision struct {
	Granted   bool
	Status    int
	Detail    string
	Required  gatewaytypes.AccessLevel
	Effective gatewaytypes.AccessLevel
}

// Check computes the effective access level for a request and decides
// whether it meets requiredLevel, auditing exactly one entry either way.
// agentLevel is the requesting agent's configured ceiling; requestedLevel is
// the caller-supplied x-torbo-access-level header value (already parsed and
// clamped to the valid enum range).
func (g *Guard) Check(clientIP, method, path string, requiredLevel, agentLevel, requestedLevel gatewaytypes.AccessLevel, agentID string, cloud bool) Decision {
	if g.globalLevel == gatewaytypes.LevelOff {
		d := Decision{Granted: false, Status: 403, Detail: "Gateway is OFF", Required: requiredLevel}
		g.record(clientIP, method, path, requiredLevel, d)
		return d
	}

	effective := agentLevel.Clamp(g.globalLevel).Clamp(requestedLevel)

	if effective < requiredLevel {
		d := Decision{
			Granted:   false,
			Status:    403,
			Detail:    fmt.Sprintf("Access level %d (%s) required", int(requiredLevel), requiredLevel),
			Required:  requiredLevel,
			Effective: effective,
		}
		g.record(clientIP, method, path, requiredLevel, d)
		return d
	}

	if cloud {
		switch g.tierHook(path, agentID, effective) {
		case TierDenied:
			d := Decision{Granted: false, Status: 403, Detail: "plan does not permit this action", Required: requiredLevel, Effective: effective}
			g.record(clientIP, method, path, requiredLevel, d)
			return d
		case TierRateLimited:
			d := Decision{Granted: false, Status: 429, Detail: "plan rate limit exceeded", Required: requiredLevel, Effective: effective}
			g.record(clientIP, method, path, requiredLevel, d)
			return d
		}
	}

	d := Decision{Granted: true, Status: 200, Required: requiredLevel, Effective: effective}
	g.record(clientIP, method, path, requiredLevel, d)
	return d
}

func (g *Guard) record(clientIP, method, path string, required gatewaytypes.AccessLevel, d Decision) {
	if g.auditLog == nil {
		return
	}
	g.auditLog.Record(gatewaytypes.AuditEntry{
		ClientIP:      clientIP,
		Method:        method,
		Path:          path,
		RequiredLevel: required,
		Granted:       d.Granted,
		Detail:        d.Detail,
	})
}
