// Package eventbus implements the gateway's publish-subscribe event stream:
// a bounded ring buffer of the last N events, live SSE subscribers matched
// by glob pattern, and durable persistence of events matching a
// critical-prefix set. Adapted from the span/event emission idiom in the
// teacher's tracer.go and observer/ package — there, a Tracer emits spans
// keyed by name to an exporter; here, a Bus emits named events to pattern-
// matching subscribers. Trailing-'*' patterns ("system.gateway.*") are
// prefix matches and any other pattern goes through path.Match (stdlib),
// without pulling in a dedicated glob dependency — no repo in the pack
// reaches for one for this narrow a need.
package eventbus

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

const ringCapacity = 1000

// criticalPrefixes are glob patterns whose matching events are durably
// persisted in addition to being ring-buffered and broadcast.
var criticalPrefixes = []string{"system.gateway.*", "system.agent.error", "security.*"}

// PersistFunc durably persists one critical event. Supplied by the caller
// (internal/store) so this package stays storage-agnostic.
type PersistFunc func(ctx context.Context, e gatewaytypes.Event) error

type subscriber struct {
	pattern string
	ch      chan gatewaytypes.Event
}

// Bus is the process-wide event bus.
type Bus struct {
	mu   sync.Mutex
	ring []gatewaytypes.Event
	subs map[int]*subscriber
	next int

	persist PersistFunc
	now     func() time.Time
}

func New(persist PersistFunc) *Bus {
	return &Bus{subs: make(map[int]*subscriber), persist: persist, now: time.Now}
}

// Publish records, broadcasts, and (if critical) durably persists one event.
func (b *Bus) Publish(name string, payload map[string]string, source string) {
	e := gatewaytypes.Event{Name: name, Payload: payload, Source: source, Timestamp: b.now().Unix()}

	b.mu.Lock()
	b.ring = append(b.ring, e)
	if len(b.ring) > ringCapacity {
		b.ring = b.ring[len(b.ring)-ringCapacity:]
	}
	var targets []chan gatewaytypes.Event
	for _, s := range b.subs {
		if globMatch(s.pattern, name) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- e:
		default:
			// Slow subscriber: drop rather than block the publisher. Background
			// publication must never backpressure request-handling goroutines.
		}
	}

	if isCritical(name) && b.persist != nil {
		go func() {
			_ = b.persist(context.Background(), e)
		}()
	}
}

func isCritical(name string) bool {
	for _, p := range criticalPrefixes {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

// globMatch supports the dotted-glob convention used by event names: an
// exact name, a pattern ending in '*' as a plain prefix match
// ("system.gateway.*" matching "system.gateway.started" and any deeper
// name), and path.Match for any other pattern.
func globMatch(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// Subscription is a live handle a caller drains until Close or the
// surrounding context is cancelled.
type Subscription struct {
	ch     <-chan gatewaytypes.Event
	cancel func()
}

func (s *Subscription) Events() <-chan gatewaytypes.Event { return s.ch }
func (s *Subscription) Close()                             { s.cancel() }

// Subscribe registers a live SSE subscriber matching pattern.
func (b *Bus) Subscribe(pattern string) *Subscription {
	ch := make(chan gatewaytypes.Event, 64)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{pattern: pattern, ch: ch}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return &Subscription{ch: ch, cancel: cancel}
}

// Recent returns up to n of the most recently published events.
func (b *Bus) Recent(n int) []gatewaytypes.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]gatewaytypes.Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}
