package httpserver

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torbolabs/torbobase/internal/access"
	"github.com/torbolabs/torbobase/internal/audit"
	"github.com/torbolabs/torbobase/internal/auth"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/ratelimit"
	"github.com/torbolabs/torbobase/internal/store"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	devices := store.NewFileStore[gatewaytypes.PairedDevice](filepath.Join(t.TempDir(), "devices.json"))
	authn, err := auth.New("master-secret", nil, devices)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	guard := access.New(gatewaytypes.LevelFull, audit.New(), nil)
	general := ratelimit.New(100)
	pair := ratelimit.New(2)
	t.Cleanup(func() { general.Close(); pair.Close() })

	return New(Deps{
		Authenticator:  authn,
		Guard:          guard,
		GeneralLimiter: general,
		PairLimiter:    pair,
		PairingCode:    "123456",
		ServiceName:    "torbobase",
		ServiceVersion: "test",
	})
}

// The tests below that depend on the caller's address serve the request
// in-process: a RemoteAddr set on a client request is not sent over the
// wire, so through httptest.NewServer every caller is 127.0.0.1 and gets
// the loopback bypass.

func TestHealthUnauthenticatedOmitsNetworkIdentity(t *testing.T) {
	rt := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.5:5555"
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "tailscaleIP") {
		t.Fatalf("expected no network identity for an unauthenticated caller, got %s", rec.Body.String())
	}
}

func TestLevelNeverRevealsNumericValue(t *testing.T) {
	rt := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/level", nil)
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.ContainsAny(rec.Body.String(), "0123456789") {
		t.Fatalf("expected no numeric level in the body, got %s", rec.Body.String())
	}
}

func TestPairRejectsWrongCode(t *testing.T) {
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pair", "application/json", strings.NewReader("{\"code\":\"wrong\",\"deviceName\":\"phone\"}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pairing code, got %d", resp.StatusCode)
	}
}

func TestPairAcceptsCorrectCode(t *testing.T) {
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pair", "application/json", strings.NewReader("{\"code\":\"123456\",\"deviceName\":\"phone\"}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for correct pairing code, got %d", resp.StatusCode)
	}
}

func TestPairRateLimited(t *testing.T) {
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	var lastStatus int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/pair", "application/json", strings.NewReader("{\"code\":\"wrong\",\"deviceName\":\"phone\"}"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		lastStatus = resp.StatusCode
		resp.Body.Close()
	}
	if lastStatus != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding pair rate limit, got %d", lastStatus)
	}
}

func TestControlLevelRequiresAdmin(t *testing.T) {
	rt := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/control/level", strings.NewReader(`{"level":5}`))
	req.RemoteAddr = "203.0.113.5:5555"
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestControlLevelAllowsMasterToken(t *testing.T) {
	rt := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/control/level", strings.NewReader(`{"level":3}`))
	req.RemoteAddr = "203.0.113.5:5555"
	req.Header.Set("Authorization", "Bearer master-secret")
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for master token, got %d", rec.Code)
	}
}

func TestCORSPreflightExcludesSensitivePaths(t *testing.T) {
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/fetch", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS header on a sensitive path preflight")
	}
}
