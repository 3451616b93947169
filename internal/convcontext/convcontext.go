// Package convcontext implements ConvContext: a per-channel rolling message
// buffer with overflow summarization and idle eviction. Grounded on
// agentmemory.go's buildMessages/persistMessages (history-then-current-turn
// assembly, background persistence detached from the request context via
// context.WithoutCancel) and on suspend.go's TTL-timer-with-mutex idiom,
// adapted here from "release a suspended closure after a timeout" to
// "archive and evict an idle channel after a timeout".
package convcontext

import (
	"context"
	"sync"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// SummarizeFunc condenses overflowed messages into a short running summary,
// folding it with any prior summary. Optional: when it is nil (cmd/gatewayd
// passes nil), overflowed messages are dropped without being summarized.
type SummarizeFunc func(ctx context.Context, priorSummary string, overflowed []gatewaytypes.BufferedMessage) (string, error)

// ArchiveFunc persists a channel's final state when it is evicted for
// idleness. Optional: when it is nil (cmd/gatewayd passes nil), an evicted
// channel's state is discarded.
type ArchiveFunc func(ctx context.Context, channelID string, state gatewaytypes.ChannelState)

type channelEntry struct {
	mu    sync.Mutex
	state gatewaytypes.ChannelState
}

// Manager owns all channel buffers. One Manager per process.
type Manager struct {
	maxWindow   int
	idleTimeout time.Duration
	summarize   SummarizeFunc
	archive     ArchiveFunc

	mu       sync.Mutex
	channels map[string]*channelEntry

	stopSweep chan struct{}
	now       func() time.Time
}

func New(maxWindow int, idleTimeout time.Duration, summarize SummarizeFunc, archive ArchiveFunc) *Manager {
	m := &Manager{
		maxWindow:   maxWindow,
		idleTimeout: idleTimeout,
		summarize:   summarize,
		archive:     archive,
		channels:    make(map[string]*channelEntry),
		stopSweep:   make(chan struct{}),
		now:         time.Now,
	}
	go m.sweepLoop()
	return m
}

func (m *Manager) Close() { close(m.stopSweep) }

func (m *Manager) entry(channelID string) *channelEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.channels[channelID]
	if !ok {
		e = &channelEntry{}
		m.channels[channelID] = e
	}
	return e
}

// Append adds one message to a channel's buffer. Once the buffer exceeds
// maxWindow, its oldest 10 entries are cut and folded into the running
// summary by a background goroutine detached from ctx's cancellation.
// Resuming channels (woken from an idle archive) have Resuming cleared.
func (m *Manager) Append(ctx context.Context, channelID string, msg gatewaytypes.BufferedMessage) {
	const summarizeBatch = 10
	msg.Content = gatewaytypes.CapContent(msg.Content)
	e := m.entry(channelID)

	e.mu.Lock()
	e.state.Buffer = append(e.state.Buffer, msg)
	e.state.LastActivity = m.now().Unix()
	e.state.Resuming = false
	var toSummarize []gatewaytypes.BufferedMessage
	if len(e.state.Buffer) > m.maxWindow {
		n := min(summarizeBatch, len(e.state.Buffer))
		toSummarize = append(toSummarize, e.state.Buffer[:n]...)
		e.state.Buffer = e.state.Buffer[n:]
	}
	prior := e.state.Summary
	e.mu.Unlock()

	if len(toSummarize) == 0 || m.summarize == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		summary, err := m.summarize(bg, prior, toSummarize)
		if err != nil {
			return
		}
		e.mu.Lock()
		e.state.Summary = summary
		e.mu.Unlock()
	}()
}

// Snapshot returns the current buffer and summary for a channel, for the
// chat pipeline to fold into the messages sent upstream.
func (m *Manager) Snapshot(channelID string) gatewaytypes.ChannelState {
	e := m.entry(channelID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.state
	out.Buffer = append([]gatewaytypes.BufferedMessage(nil), e.state.Buffer...)
	return out
}

// sweepLoop periodically evicts channels idle longer than idleTimeout,
// mirroring ratelimit.Limiter's ticker-driven sweep.
func (m *Manager) sweepLoop() {
	interval := m.idleTimeout / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.idleTimeout).Unix()

	m.mu.Lock()
	stale := make([]string, 0)
	for id, e := range m.channels {
		e.mu.Lock()
		idle := e.state.LastActivity > 0 && e.state.LastActivity < cutoff
		e.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.evict(id)
	}
}

func (m *Manager) evict(channelID string) {
	m.mu.Lock()
	e, ok := m.channels[channelID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.channels, channelID)
	m.mu.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if m.archive != nil {
		// Detach from any request context, same rationale as
		// agentmemory.go's persistMessages: the archiving write must outlive
		// the sweep tick that triggered it.
		m.archive(context.WithoutCancel(context.Background()), channelID, state)
	}
}

// MarkResuming flags a channel as having just been woken from an archived,
// idle state so the pipeline can inject a "resuming after a gap" notice.
func (m *Manager) MarkResuming(channelID string) {
	e := m.entry(channelID)
	e.mu.Lock()
	e.state.Resuming = true
	e.mu.Unlock()
}
