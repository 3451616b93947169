// Package auth implements AuthMW: bearer-token resolution (loopback bypass,
// master token, webchat session set, paired-device store) and the pairing
// handshake (manual code and trusted-network auto-pair). The teacher has no
// multi-client pairing concept to port directly — this is built fresh, but
// in the teacher's idiom: plain structs plus mutex (matching ratelimit.go
// and memory.go's locking style), NewID/NowUnix from id.go for timestamps,
// and crypto/rand for token material instead of UUIDv7, since a pairing
// token is a secret and UUIDv7's leading bytes are a predictable timestamp —
// unsuitable for anything meant to resist guessing.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/store"
)

const (
	pairedDeviceTTL = 30 * 24 * time.Hour
	tokenBytes      = 24 // >= 24 random bytes per spec.md §4.3
)

// Principal identifies the authenticated caller attached to a request
// context after AuthMW succeeds.
type Principal struct {
	Kind     string // "loopback" | "master" | "session" | "device" | "cloud"
	DeviceID string
	Trusted  bool // resolved over the configured trusted CIDR
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator resolves a bearer token and remote address to a Principal,
// following the resolution order in spec.md §4.3: loopback bypass, master
// token, webchat session set, paired-device store with lastSeen refresh.
type Authenticator struct {
	masterToken string
	trustedCIDR *net.IPNet

	mu       sync.Mutex
	sessions map[string]int64 // webchat session token -> issuedAt
	devices  *store.FileStore[gatewaytypes.PairedDevice]
	loaded   []gatewaytypes.PairedDevice

	now func() time.Time
}

func New(masterToken string, trustedCIDR *net.IPNet, devices *store.FileStore[gatewaytypes.PairedDevice]) (*Authenticator, error) {
	a := &Authenticator{
		masterToken: masterToken,
		trustedCIDR: trustedCIDR,
		sessions:    make(map[string]int64),
		devices:     devices,
		now:         time.Now,
	}
	loaded, err := devices.Load()
	if err != nil {
		return nil, err
	}
	a.loaded = loaded
	return a, nil
}

// NormalizeRemoteAddr strips the port and any IPv6 brackets, yielding a bare
// host/IP string for rate limiting, audit, and trusted-network checks.
func NormalizeRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return strings.Trim(host, "[]")
}

func (a *Authenticator) isTrusted(ip string) bool {
	if a.trustedCIDR == nil {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && a.trustedCIDR.Contains(parsed)
}

// Authenticate resolves the first matching credential. bearer is the raw
// Authorization header value with the "Bearer " prefix already stripped.
func (a *Authenticator) Authenticate(clientIP, bearer string) (Principal, error) {
	if clientIP == "127.0.0.1" || clientIP == "::1" {
		return Principal{Kind: "loopback", Trusted: true}, nil
	}

	if bearer == "" {
		return Principal{}, &gatewaytypes.ErrAuth{Detail: "missing bearer token"}
	}

	if a.masterToken != "" && bearer == a.masterToken {
		return Principal{Kind: "master", Trusted: true}, nil
	}

	a.mu.Lock()
	_, ok := a.sessions[bearer]
	a.mu.Unlock()
	if ok {
		return Principal{Kind: "session"}, nil
	}

	if dev, ok := a.findDevice(bearer); ok {
		a.touchLastSeen(dev.ID)
		return Principal{Kind: "device", DeviceID: dev.ID, Trusted: a.isTrusted(clientIP)}, nil
	}

	return Principal{}, &gatewaytypes.ErrAuth{Detail: "invalid or expired token"}
}

func (a *Authenticator) findDevice(token string) (gatewaytypes.PairedDevice, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-pairedDeviceTTL).Unix()
	for _, d := range a.loaded {
		if d.Token == token && d.LastSeen >= cutoff {
			return d, true
		}
	}
	return gatewaytypes.PairedDevice{}, false
}

func (a *Authenticator) touchLastSeen(deviceID string) {
	a.mu.Lock()
	for i := range a.loaded {
		if a.loaded[i].ID == deviceID {
			a.loaded[i].LastSeen = a.now().Unix()
			break
		}
	}
	snapshot := append([]gatewaytypes.PairedDevice(nil), a.loaded...)
	a.mu.Unlock()
	go a.devices.Save(snapshot) //nolint:errcheck // best-effort persistence of an advisory timestamp
}

// IssueSession mints an in-memory webchat session token, lost at restart.
func (a *Authenticator) IssueSession() string {
	token := mintToken()
	a.mu.Lock()
	a.sessions[token] = a.now().Unix()
	a.mu.Unlock()
	return token
}

// mintToken generates an unguessable bearer token: 24+ random bytes,
// base64url-encoded, per spec.md §4.3.
func mintToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf)
}

// sanitizeDeviceName strips control characters and truncates to 64 runes.
func sanitizeDeviceName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	runes := []rune(out)
	if len(runes) > 64 {
		out = string(runes[:64])
	}
	return out
}

// Pair completes the manual pairing handshake: the caller has already
// verified the out-of-band code matches; this mints and persists the token.
func (a *Authenticator) Pair(deviceName string) (token, deviceID string, err error) {
	deviceName = sanitizeDeviceName(deviceName)
	token = mintToken()
	deviceID = gatewaytypes.NewID()

	dev := gatewaytypes.PairedDevice{
		ID:       deviceID,
		Name:     deviceName,
		Token:    token,
		PairedAt: a.now().Unix(),
		LastSeen: a.now().Unix(),
	}

	a.mu.Lock()
	a.loaded = append(a.loaded, dev)
	snapshot := append([]gatewaytypes.PairedDevice(nil), a.loaded...)
	a.mu.Unlock()

	if err := a.devices.Save(snapshot); err != nil {
		return "", "", err
	}
	return token, deviceID, nil
}

// AutoPair issues a token without a code for clients on the trusted network,
// idempotent per device name: a second auto-pair request for the same name
// returns the existing device's token rather than minting a duplicate.
func (a *Authenticator) AutoPair(clientIP, deviceName string) (token, deviceID, status string, err error) {
	if !a.isTrusted(clientIP) {
		return "", "", "", &gatewaytypes.ErrAuthorization{Detail: "client is not on the trusted network"}
	}
	deviceName = sanitizeDeviceName(deviceName)

	a.mu.Lock()
	for _, d := range a.loaded {
		if d.Name == deviceName {
			tok, id := d.Token, d.ID
			a.mu.Unlock()
			return tok, id, "existing", nil
		}
	}
	a.mu.Unlock()

	tok, id, err := a.Pair(deviceName)
	if err != nil {
		return "", "", "", err
	}
	return tok, id, "new", nil
}

// VerifyToken reports whether a token currently resolves to a live
// credential (master, session, or paired device), for POST /pair/verify.
func (a *Authenticator) VerifyToken(token string) bool {
	if a.masterToken != "" && token == a.masterToken {
		return true
	}
	a.mu.Lock()
	_, ok := a.sessions[token]
	a.mu.Unlock()
	if ok {
		return true
	}
	_, ok = a.findDevice(token)
	return ok
}
