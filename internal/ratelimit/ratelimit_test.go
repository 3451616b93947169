package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

// TestAllowWithinLimit covers scenario S2 from spec.md: a client issuing
// exactly `limit` requests in the window receives only successes, and the
// (limit+1)-th is rejected.
func TestAllowWithinLimit(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := New(3)
	defer l.Close()
	l.now = clock.now

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("4th request within the same window should be rejected")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := New(2)
	defer l.Close()
	l.now = clock.now

	if !l.Allow("5.6.7.8") || !l.Allow("5.6.7.8") {
		t.Fatal("first two requests should be allowed")
	}
	if l.Allow("5.6.7.8") {
		t.Fatal("3rd request should be rejected within window")
	}

	clock.t = clock.t.Add(61 * time.Second)
	if !l.Allow("5.6.7.8") {
		t.Fatal("request after window elapses should be allowed")
	}
}

func TestAllowIsolatedPerIP(t *testing.T) {
	l := New(1)
	defer l.Close()

	if !l.Allow("10.0.0.1") {
		t.Fatal("first IP's first request should be allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("second IP is independent and should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("first IP's second request should be rejected")
	}
}

func TestSweepPrunesStaleIPs(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := New(5)
	defer l.Close()
	l.now = clock.now

	l.Allow("192.168.1.1")
	clock.t = clock.t.Add(61 * time.Second)
	l.sweep()

	l.mu.Lock()
	_, exists := l.windows["192.168.1.1"]
	l.mu.Unlock()
	if exists {
		t.Fatal("sweep should have dropped the stale IP entry")
	}
}
