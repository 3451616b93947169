package providerset

import (
	"context"
	"testing"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

type stubProvider struct {
	name       string
	calls      int
	failTimes  int
	err        error
	resp       gatewaytypes.ChatResponse
	streamErrs []error
	emitBefore bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Chat(ctx context.Context, req gatewaytypes.ChatRequest) (gatewaytypes.ChatResponse, error) {
	s.calls++
	if s.calls <= s.failTimes {
		return gatewaytypes.ChatResponse{}, s.err
	}
	return s.resp, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req gatewaytypes.ChatRequest, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error) {
	defer close(ch)
	s.calls++
	idx := s.calls - 1
	var err error
	if idx < len(s.streamErrs) {
		err = s.streamErrs[idx]
	}
	if err != nil {
		if s.emitBefore {
			ch <- gatewaytypes.StreamEvent{Type: gatewaytypes.EventTextDelta, Content: "partial"}
		}
		return gatewaytypes.ChatResponse{}, err
	}
	return s.resp, nil
}

func TestRetryBackoffStaysWithinJitterBounds(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second
	for i := 0; i < 6; i++ {
		for attempt := 0; attempt < 50; attempt++ {
			d := retryBackoff(base, cap, i)
			exp := base * time.Duration(1<<i)
			if exp > cap {
				exp = cap
			}
			lo := time.Duration(float64(exp) * 0.75)
			hi := time.Duration(float64(exp) * 1.25)
			if d < lo || d > hi {
				t.Fatalf("retryBackoff(i=%d) = %v, want within [%v, %v]", i, d, lo, hi)
			}
		}
	}
}

func TestRetryBackoffCapsAtMax(t *testing.T) {
	d := retryBackoff(time.Second, 30*time.Second, 10)
	if d > 30*time.Second+(30*time.Second/4) {
		t.Fatalf("expected capped backoff near 30s, got %v", d)
	}
}

func TestIsTransientExcludesAuthFailures(t *testing.T) {
	authErr := &gatewaytypes.ErrUpstream{Provider: "x", Status: 401}
	if isTransient(authErr) {
		t.Fatal("expected auth failure to not be transient")
	}
	rateLimitErr := &gatewaytypes.ErrUpstream{Provider: "x", Status: 429}
	if !isTransient(rateLimitErr) {
		t.Fatal("expected 429 to be transient")
	}
	serverErr := &gatewaytypes.ErrUpstream{Provider: "x", Status: 503}
	if !isTransient(serverErr) {
		t.Fatal("expected 503 to be transient")
	}
	notFoundErr := &gatewaytypes.ErrUpstream{Provider: "x", Status: 404}
	if isTransient(notFoundErr) {
		t.Fatal("expected 404 to not be transient")
	}
}

func TestRetryChatRetriesTransientThenSucceeds(t *testing.T) {
	stub := &stubProvider{
		name:      "stub",
		failTimes: 2,
		err:       &gatewaytypes.ErrUpstream{Provider: "stub", Status: 503},
		resp:      gatewaytypes.ChatResponse{Content: "ok"},
	}
	p := WithRetry(stub, nil, RetryBaseDelay(time.Millisecond))
	resp, err := p.Chat(context.Background(), gatewaytypes.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" || stub.calls != 3 {
		t.Fatalf("expected success after retries, got resp=%+v calls=%d", resp, stub.calls)
	}
}

func TestRetryChatNeverRetriesAuthFailure(t *testing.T) {
	stub := &stubProvider{
		name:      "stub",
		failTimes: 5,
		err:       &gatewaytypes.ErrUpstream{Provider: "stub", Status: 401},
	}
	p := WithRetry(stub, nil, RetryBaseDelay(time.Millisecond))
	_, err := p.Chat(context.Background(), gatewaytypes.ChatRequest{})
	if err == nil {
		t.Fatal("expected auth error to propagate")
	}
	if stub.calls != 1 {
		t.Fatalf("expected exactly 1 attempt for auth failure, got %d", stub.calls)
	}
}

func TestRetryChatStreamDoesNotRetryAfterFirstToken(t *testing.T) {
	stub := &stubProvider{
		name:       "stub",
		streamErrs: []error{&gatewaytypes.ErrUpstream{Provider: "stub", Status: 503}},
		emitBefore: true,
	}
	p := WithRetry(stub, nil, RetryBaseDelay(time.Millisecond))
	ch := make(chan gatewaytypes.StreamEvent, 8)
	_, err := p.ChatStream(context.Background(), gatewaytypes.ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected error to propagate once tokens were already sent")
	}
	if stub.calls != 1 {
		t.Fatalf("expected no retry once a token was emitted, got %d calls", stub.calls)
	}
}

func TestRetryChatStreamRetriesBeforeFirstToken(t *testing.T) {
	stub := &stubProvider{
		name: "stub",
		streamErrs: []error{
			&gatewaytypes.ErrUpstream{Provider: "stub", Status: 503},
			nil,
		},
		emitBefore: false,
		resp:       gatewaytypes.ChatResponse{Content: "done"},
	}
	p := WithRetry(stub, nil, RetryBaseDelay(time.Millisecond))
	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := p.ChatStream(context.Background(), gatewaytypes.ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" || stub.calls != 2 {
		t.Fatalf("expected retry before first token to succeed, got resp=%+v calls=%d", resp, stub.calls)
	}
}
