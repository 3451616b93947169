package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

func testProvider() *Anthropic {
	return New("test-key", "claude-sonnet-4-5")
}

func TestBuildBodySystemAndUser(t *testing.T) {
	a := testProvider()
	req := gatewaytypes.ChatRequest{Messages: []gatewaytypes.ChatMessage{
		gatewaytypes.SystemMessage("be terse"),
		gatewaytypes.UserMessage("hello"),
	}}

	body := a.buildBody(req, false)
	if body.System != "be terse" {
		t.Fatalf("expected system prompt extracted, got %q", body.System)
	}
	if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
}

func TestBuildBodyAssistantToolCallBecomesToolUseBlock(t *testing.T) {
	a := testProvider()
	req := gatewaytypes.ChatRequest{Messages: []gatewaytypes.ChatMessage{
		{
			Role: gatewaytypes.RoleAssistant,
			ToolCalls: []gatewaytypes.ToolCall{
				{ID: "call_1", Type: "function", Function: gatewaytypes.ToolCallFunction{Name: "search", Arguments: `{"q":"go"}`}},
			},
		},
	}}

	body := a.buildBody(req, false)
	blocks := body.Messages[0].Content
	if len(blocks) != 1 || blocks[0].Type != "tool_use" || blocks[0].Name != "search" {
		t.Fatalf("expected tool_use block, got %+v", blocks)
	}
}

func TestBuildBodyToolResultBecomesUserToolResultBlock(t *testing.T) {
	a := testProvider()
	req := gatewaytypes.ChatRequest{Messages: []gatewaytypes.ChatMessage{
		gatewaytypes.ToolResultMessage("call_1", "42"),
	}}

	body := a.buildBody(req, false)
	blocks := body.Messages[0].Content
	if body.Messages[0].Role != "user" || blocks[0].Type != "tool_result" || blocks[0].ToolUseID != "call_1" {
		t.Fatalf("unexpected tool result message: %+v", body.Messages[0])
	}
}

func TestBuildBodyThinkingRaisesMaxTokens(t *testing.T) {
	a := New("k", "claude-sonnet-4-5", WithThinking(true), WithMaxTokens(512))
	body := a.buildBody(gatewaytypes.ChatRequest{Messages: []gatewaytypes.ChatMessage{gatewaytypes.UserMessage("hi")}}, false)
	if body.Thinking == nil || body.Thinking.BudgetTokens < 1024 {
		t.Fatalf("expected thinking config with budget >= 1024, got %+v", body.Thinking)
	}
	if body.MaxTokens <= body.Thinking.BudgetTokens {
		t.Fatalf("expected max_tokens > budget_tokens, got max=%d budget=%d", body.MaxTokens, body.Thinking.BudgetTokens)
	}
}

func TestParseResponseTextAndToolUse(t *testing.T) {
	msg := messageResponse{
		Content: []contentBlock{
			{Type: "text", Text: "the answer is"},
			{Type: "tool_use", ID: "t1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)},
		},
		StopReason: "tool_use",
		Usage:      usageBlock{InputTokens: 10, OutputTokens: 5},
	}
	resp := parseResponse(msg)
	if resp.Content != "the answer is" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %q", resp.FinishReason)
	}
}

func TestParseResponseMaxTokensFinish(t *testing.T) {
	resp := parseResponse(messageResponse{StopReason: "max_tokens"})
	if resp.FinishReason != "length" {
		t.Fatalf("expected length finish reason, got %q", resp.FinishReason)
	}
}
