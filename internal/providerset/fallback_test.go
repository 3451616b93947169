package providerset

import (
	"context"
	"testing"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

func TestFallbackChatAdvancesOnFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", failTimes: 1, err: &gatewaytypes.ErrUpstream{Provider: "primary", Status: 500}}
	secondary := &stubProvider{name: "secondary", resp: gatewaytypes.ChatResponse{Content: "from secondary"}}

	p := WithFallback(primary, nil, secondary)
	resp, err := p.Chat(context.Background(), gatewaytypes.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("expected fallback to secondary, got %+v", resp)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("expected each provider tried once, got primary=%d secondary=%d", primary.calls, secondary.calls)
	}
}

func TestFallbackChatReturnsLastErrorWhenAllFail(t *testing.T) {
	primary := &stubProvider{name: "primary", failTimes: 5, err: &gatewaytypes.ErrUpstream{Provider: "primary", Status: 500}}
	secondary := &stubProvider{name: "secondary", failTimes: 5, err: &gatewaytypes.ErrUpstream{Provider: "secondary", Status: 503}}

	p := WithFallback(primary, nil, secondary)
	_, err := p.Chat(context.Background(), gatewaytypes.ChatRequest{})
	if err == nil {
		t.Fatal("expected error when every provider in the chain fails")
	}
}

func TestFallbackChatStreamSkipsOnFailureBeforeFirstToken(t *testing.T) {
	primary := &stubProvider{
		name:       "primary",
		streamErrs: []error{&gatewaytypes.ErrUpstream{Provider: "primary", Status: 500}},
		emitBefore: false,
	}
	secondary := &stubProvider{name: "secondary", resp: gatewaytypes.ChatResponse{Content: "secondary stream"}}

	p := WithFallback(primary, nil, secondary)
	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := p.ChatStream(context.Background(), gatewaytypes.ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "secondary stream" {
		t.Fatalf("expected fallback stream to succeed, got %+v", resp)
	}
}

func TestFallbackChatStreamDoesNotAdvanceAfterFirstToken(t *testing.T) {
	primary := &stubProvider{
		name:       "primary",
		streamErrs: []error{&gatewaytypes.ErrUpstream{Provider: "primary", Status: 500}},
		emitBefore: true,
	}
	secondary := &stubProvider{name: "secondary", resp: gatewaytypes.ChatResponse{Content: "should not be reached"}}

	p := WithFallback(primary, nil, secondary)
	ch := make(chan gatewaytypes.StreamEvent, 8)
	_, err := p.ChatStream(context.Background(), gatewaytypes.ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected error to propagate once a token has already reached the caller")
	}
	if secondary.calls != 0 {
		t.Fatalf("expected secondary to never be tried once primary streamed a token, got %d calls", secondary.calls)
	}
}

func TestFallbackWithNoFallbacksReturnsPrimary(t *testing.T) {
	primary := &stubProvider{name: "solo"}
	p := WithFallback(primary, nil)
	if p != primary {
		t.Fatal("expected WithFallback with no fallbacks to return primary unwrapped")
	}
}
