package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

func TestBuildBodySystemAndUser(t *testing.T) {
	messages := []gatewaytypes.ChatMessage{
		gatewaytypes.SystemMessage("be terse"),
		gatewaytypes.UserMessage("hello"),
	}
	body := BuildBody(messages, nil, "gpt-4o", nil)

	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Role != "system" || body.Messages[0].Content != "be terse" {
		t.Fatalf("unexpected system message: %+v", body.Messages[0])
	}
	if body.Messages[1].Content != "hello" {
		t.Fatalf("unexpected user content: %+v", body.Messages[1])
	}
}

func TestBuildBodyAssistantWithToolCalls(t *testing.T) {
	messages := []gatewaytypes.ChatMessage{
		{
			Role: gatewaytypes.RoleAssistant,
			ToolCalls: []gatewaytypes.ToolCall{
				{ID: "call_1", Type: "function", Function: gatewaytypes.ToolCallFunction{Name: "search", Arguments: `{"q":"go"}`}},
			},
		},
	}
	body := BuildBody(messages, nil, "gpt-4o", nil)

	if len(body.Messages[0].ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(body.Messages[0].ToolCalls))
	}
	if body.Messages[0].ToolCalls[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("arguments not preserved: %+v", body.Messages[0].ToolCalls[0])
	}
}

func TestBuildBodyToolResult(t *testing.T) {
	messages := []gatewaytypes.ChatMessage{
		gatewaytypes.ToolResultMessage("call_1", "42"),
	}
	body := BuildBody(messages, nil, "gpt-4o", nil)

	if body.Messages[0].Role != "tool" || body.Messages[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected tool result message: %+v", body.Messages[0])
	}
}

func TestBuildBodyWithTools(t *testing.T) {
	tools := []gatewaytypes.ToolDefinition{
		{Name: "search", Description: "search the web", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	body := BuildBody(nil, tools, "gpt-4o", nil)

	if len(body.Tools) != 1 || body.Tools[0].Function.Name != "search" {
		t.Fatalf("tool definitions not converted: %+v", body.Tools)
	}
}

func TestBuildBodyResponseSchema(t *testing.T) {
	schema := &gatewaytypes.ResponseSchema{Name: "answer", Schema: json.RawMessage(`{"type":"object"}`)}
	body := BuildBody(nil, nil, "gpt-4o", schema)

	if body.ResponseFormat == nil || body.ResponseFormat.Type != "json_schema" {
		t.Fatalf("response format not set: %+v", body.ResponseFormat)
	}
	if !body.ResponseFormat.JSONSchema.Strict {
		t.Fatal("expected strict schema enforcement")
	}
}

func TestBuildBodyMultimodalAttachment(t *testing.T) {
	messages := []gatewaytypes.ChatMessage{
		{
			Role:    gatewaytypes.RoleUser,
			Content: gatewaytypes.TextContent("what is this"),
			Attachments: []gatewaytypes.Attachment{
				{MimeType: "image/png", Data: []byte{0x89, 0x50}},
			},
		},
	}
	body := BuildBody(messages, nil, "gpt-4o", nil)

	blocks, ok := body.Messages[0].Content.([]ContentBlock)
	if !ok {
		t.Fatalf("expected content blocks, got %T", body.Messages[0].Content)
	}
	if len(blocks) != 2 || blocks[1].Type != "image_url" {
		t.Fatalf("expected text + image_url blocks, got %+v", blocks)
	}
}
