package openaicompat

import (
	"context"
	"strings"
	"testing"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

func TestStreamSSEAccumulatesTextDeltas(t *testing.T) {
	body := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
			"data: [DONE]\n")

	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := StreamSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello" {
		t.Fatalf("expected accumulated content %q, got %q", "Hello", resp.Content)
	}

	var deltas []string
	for e := range ch {
		deltas = append(deltas, e.Content)
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Fatalf("expected emitted deltas to reconstruct content, got %v", deltas)
	}
}

// TestStreamSSEAccumulatesToolCallArgumentsAcrossChunks is the streaming
// analog of spec.md property #7: partial tool-call argument fragments must
// be joined in order and validated exactly once, at stream end.
func TestStreamSSEAccumulatesToolCallArgumentsAcrossChunks(t *testing.T) {
	body := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"search\"}}]}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"q\\\":\"}}]}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"go\\\"}\"}}]}}]}\n" +
			"data: [DONE]\n")

	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := StreamSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 accumulated tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Function.Name != "search" || tc.Function.Arguments != `{"q":"go"}` {
		t.Fatalf("arguments not correctly accumulated: %+v", tc)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %q", resp.FinishReason)
	}
}

func TestStreamSSEMalformedArgumentsFallBackToEmptyObject(t *testing.T) {
	body := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c1\",\"function\":{\"name\":\"x\",\"arguments\":\"not-json\"}}]}}]}\n" +
			"data: [DONE]\n")

	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := StreamSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("expected fallback to empty object, got %q", resp.ToolCalls[0].Function.Arguments)
	}
}
