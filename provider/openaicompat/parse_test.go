package openaicompat

import "testing"

func TestParseResponseContent(t *testing.T) {
	resp := ChatResponse{
		Choices: []Choice{{Message: &ChoiceMessage{Content: "hi there"}, FinishReason: "stop"}},
		Usage:   &Usage{PromptTokens: 10, CompletionTokens: 5},
	}
	out, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "hi there" || out.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Fatalf("usage not parsed: %+v", out.Usage)
	}
}

func TestParseResponseToolCallsSetsFinishReason(t *testing.T) {
	resp := ChatResponse{
		Choices: []Choice{{
			Message: &ChoiceMessage{
				ToolCalls: []ToolCallRequest{{ID: "c1", Function: FunctionCall{Name: "search", Arguments: `{"q":"go"}`}}},
			},
			FinishReason: "tool_calls",
		}},
	}
	out, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FinishReason != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %q", out.FinishReason)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("tool call not parsed: %+v", out.ToolCalls)
	}
}

func TestParseToolCallsMalformedArgumentsFallBackToEmptyObject(t *testing.T) {
	calls := ParseToolCalls([]ToolCallRequest{{ID: "c1", Function: FunctionCall{Name: "x", Arguments: "not json"}}})
	if calls[0].Function.Arguments != "{}" {
		t.Fatalf("expected fallback to empty object, got %q", calls[0].Function.Arguments)
	}
}

func TestParseResponseNoChoices(t *testing.T) {
	out, err := ParseResponse(ChatResponse{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "" {
		t.Fatalf("expected empty response, got %+v", out)
	}
}
