package anthropic

import (
	"context"
	"strings"
	"testing"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

func TestStreamSSEAccumulatesTextDeltas(t *testing.T) {
	body := strings.NewReader(
		"event: content_block_start\n" +
			"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
			"event: message_stop\n" +
			"data: {\"type\":\"message_stop\"}\n\n")

	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := streamSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello" {
		t.Fatalf("expected accumulated content %q, got %q", "Hello", resp.Content)
	}
}

// TestStreamSSEAccumulatesToolUseArgumentsAcrossChunks exercises property #7:
// input_json_delta fragments must be joined in index order and validated
// exactly once, at stream end, never emitted to the caller partially.
func TestStreamSSEAccumulatesToolUseArgumentsAcrossChunks(t *testing.T) {
	body := strings.NewReader(
		"event: content_block_start\n" +
			"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"call_1\",\"name\":\"search\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"q\\\":\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"go\\\"}\"}}\n\n" +
			"event: message_delta\n" +
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":3}}\n\n" +
			"event: message_stop\n" +
			"data: {\"type\":\"message_stop\"}\n\n")

	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := streamSSE(context.Background(), body, ch)
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

func TestStreamSSEMalformedToolArgsFallBackToEmptyObject(t *testing.T) {
	body := strings.NewReader(
		"event: content_block_start\n" +
			"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"c1\",\"name\":\"x\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"not-json\"}}\n\n" +
			"event: message_stop\n" +
			"data: {\"type\":\"message_stop\"}\n\n")

	ch := make(chan gatewaytypes.StreamEvent, 8)
	resp, err := streamSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("expected fallback to empty object, got %q", resp.ToolCalls[0].Function.Arguments)
	}
}
