package openaicompat

import (
	"encoding/json"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// ParseResponse converts an OpenAI-format ChatResponse to the gateway's
// ChatResponse shape, reading choices[0].
func ParseResponse(resp ChatResponse) (gatewaytypes.ChatResponse, error) {
	var out gatewaytypes.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}
	switch choice.FinishReason {
	case "tool_calls":
		out.FinishReason = "tool_calls"
	case "length":
		out.FinishReason = "length"
	default:
		out.FinishReason = "stop"
	}

	if resp.Usage != nil {
		out.Usage = gatewaytypes.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to gateway ToolCalls.
// Arguments that fail to parse as valid JSON are replaced with "{}" rather
// than propagated, since a malformed tool call must never crash the pipeline.
func ParseToolCalls(tcs []ToolCallRequest) []gatewaytypes.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]gatewaytypes.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := tc.Function.Arguments
		if !json.Valid([]byte(args)) {
			args = "{}"
		}
		out = append(out, gatewaytypes.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: gatewaytypes.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}
