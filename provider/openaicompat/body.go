package openaicompat

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// Option configures a single OpenAI-compatible chat request.
type Option func(*ChatRequest)

func WithTemperature(t float64) Option { return func(r *ChatRequest) { r.Temperature = &t } }
func WithTopP(p float64) Option        { return func(r *ChatRequest) { r.TopP = &p } }
func WithMaxTokens(n int) Option       { return func(r *ChatRequest) { r.MaxTokens = n } }

// WithToolChoice accepts gatewaytypes.ToolChoice's own marshaling, so the
// bare-string/object distinction round-trips without this package needing
// to know about it.
func WithToolChoice(choice gatewaytypes.ToolChoice) Option {
	return func(r *ChatRequest) { r.ToolChoice = choice }
}

// BuildBody converts a gateway chat request into the OpenAI wire shape.
func BuildBody(messages []gatewaytypes.ChatMessage, tools []gatewaytypes.ToolDefinition, model string, schema *gatewaytypes.ResponseSchema, opts ...Option) ChatRequest {
	var msgs []Message

	for _, m := range messages {
		switch {
		case m.Role == gatewaytypes.RoleSystem:
			msgs = append(msgs, Message{Role: "system", Content: m.Content.ExtractText()})

		case m.Role == gatewaytypes.RoleAssistant && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:       tc.ID,
					Type:     "function",
					Function: FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
				})
			}
			msg := Message{Role: "assistant", ToolCalls: tcs}
			if text := m.Content.ExtractText(); text != "" {
				msg.Content = text
			}
			msgs = append(msgs, msg)

		case m.Role == gatewaytypes.RoleTool:
			msgs = append(msgs, Message{Role: "tool", Content: m.Content.ExtractText(), ToolCallID: m.ToolCallID})

		default:
			if len(m.Attachments) > 0 {
				var blocks []ContentBlock
				if text := m.Content.ExtractText(); text != "" {
					blocks = append(blocks, ContentBlock{Type: "text", Text: text})
				}
				for _, att := range m.Attachments {
					url := att.URL
					if url == "" {
						url = "data:" + att.MimeType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
					}
					if strings.HasPrefix(att.MimeType, "image/") {
						blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}})
					} else {
						blocks = append(blocks, ContentBlock{Type: "file", File: &FileData{URL: url}})
					}
				}
				msgs = append(msgs, Message{Role: m.Role, Content: blocks})
			} else {
				msgs = append(msgs, Message{Role: m.Role, Content: m.Content.ExtractText()})
			}
		}
	}

	req := ChatRequest{Model: model, Messages: msgs}

	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}

	if schema != nil && len(schema.Schema) > 0 {
		req.ResponseFormat = &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchema{Name: schema.Name, Schema: schema.Schema, Strict: true},
		}
	}

	for _, opt := range opts {
		opt(&req)
	}

	return req
}

// BuildToolDefs converts gateway tool definitions to OpenAI tool format.
func BuildToolDefs(tools []gatewaytypes.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type:     "function",
			Function: Function{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return out
}
