// Package anthropic implements the Anthropic Messages API provider adapter.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	defaultMaxTokens    = 4096
	anthropicVersion    = "2023-06-01"
	defaultThinkingBits = 1024
)

// Anthropic implements the gateway's provider adapter contract for the
// Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	temperature     float64
	topP            float64
	hasTemperature  bool
	hasTopP         bool
	thinkingEnabled bool
	maxTokens       int64
}

// Option configures an Anthropic provider.
type Option func(*Anthropic)

func WithTemperature(t float64) Option { return func(a *Anthropic) { a.temperature = t; a.hasTemperature = true } }
func WithTopP(p float64) Option        { return func(a *Anthropic) { a.topP = p; a.hasTopP = true } }
func WithThinking(enabled bool) Option { return func(a *Anthropic) { a.thinkingEnabled = enabled } }
func WithMaxTokens(n int64) Option     { return func(a *Anthropic) { a.maxTokens = n } }
func WithBaseURL(url string) Option    { return func(a *Anthropic) { a.baseURL = url } }
func WithHTTPClient(c *http.Client) Option { return func(a *Anthropic) { a.httpClient = c } }

// New creates a new Anthropic chat provider.
func New(apiKey, model string, opts ...Option) *Anthropic {
	a := &Anthropic{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Chat sends a non-streaming chat request and returns the complete response.
func (a *Anthropic) Chat(ctx context.Context, req gatewaytypes.ChatRequest) (gatewaytypes.ChatResponse, error) {
	body := a.buildBody(req, false)

	resp, err := a.send(ctx, body)
	if err != nil {
		return gatewaytypes.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gatewaytypes.ChatResponse{}, a.httpErr(resp)
	}

	var msg messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return gatewaytypes.ChatResponse{}, &gatewaytypes.ErrUpstream{Provider: "anthropic", Body: fmt.Sprintf("decode response: %v", err)}
	}

	return parseResponse(msg), nil
}

// ChatStream streams text-delta events into ch, then returns the final
// accumulated response. Tool-call arguments stream as input_json_delta
// fragments keyed by content-block index; they are joined in order and
// validated exactly once, when the stream ends, never emitted partially.
func (a *Anthropic) ChatStream(ctx context.Context, req gatewaytypes.ChatRequest, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error) {
	body := a.buildBody(req, true)

	resp, err := a.send(ctx, body)
	if err != nil {
		close(ch)
		return gatewaytypes.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return gatewaytypes.ChatResponse{}, a.httpErr(resp)
	}

	return streamSSE(ctx, resp.Body, ch)
}

func (a *Anthropic) send(ctx context.Context, body requestBody) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &gatewaytypes.ErrUpstream{Provider: "anthropic", Body: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &gatewaytypes.ErrUpstream{Provider: "anthropic", Body: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	return a.httpClient.Do(httpReq)
}

func (a *Anthropic) httpErr(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	return &gatewaytypes.ErrUpstream{
		Provider:   "anthropic",
		Status:     resp.StatusCode,
		Body:       string(b),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ---- Request building ----

type requestBody struct {
	Model       string          `json:"model"`
	MaxTokens   int64           `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []anthropicMsg  `json:"messages"`
	Tools       []anthropicTool `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Thinking    *thinkingConfig `json:"thinking,omitempty"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int64  `json:"budget_tokens"`
}

type anthropicMsg struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func (a *Anthropic) buildBody(req gatewaytypes.ChatRequest, stream bool) requestBody {
	var systemParts []string
	var messages []anthropicMsg

	for _, m := range req.Messages {
		switch {
		case m.Role == gatewaytypes.RoleSystem:
			if text := m.Content.ExtractText(); text != "" {
				systemParts = append(systemParts, text)
			}

		case m.Role == gatewaytypes.RoleAssistant && len(m.ToolCalls) > 0:
			var blocks []contentBlock
			if text := m.Content.ExtractText(); text != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 || !json.Valid(input) {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
			}
			messages = append(messages, anthropicMsg{Role: "assistant", Content: blocks})

		case m.Role == gatewaytypes.RoleTool:
			messages = append(messages, anthropicMsg{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content.ExtractText(),
				}},
			})

		default:
			var blocks []contentBlock
			if text := m.Content.ExtractText(); text != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: text})
			}
			role := "user"
			if m.Role == gatewaytypes.RoleAssistant {
				role = "assistant"
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropicMsg{Role: role, Content: blocks})
			}
		}
	}

	body := requestBody{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    strings.Join(systemParts, "\n\n"),
		Messages:  messages,
		Stream:    stream,
	}

	if a.hasTemperature {
		body.Temperature = &a.temperature
	}
	if a.hasTopP {
		body.TopP = &a.topP
	}

	if len(req.Tools) > 0 {
		body.Tools = make([]anthropicTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Parameters
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object"}`)
			}
			body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: params})
		}
	}

	if a.thinkingEnabled {
		budget := int64(defaultThinkingBits)
		body.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: budget}
		if body.MaxTokens <= budget {
			body.MaxTokens = budget + defaultThinkingBits
		}
	}

	return body
}

// ---- Response parsing ----

type messageResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usageBlock     `json:"usage"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func parseResponse(msg messageResponse) gatewaytypes.ChatResponse {
	var content strings.Builder
	var calls []gatewaytypes.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			input := string(block.Input)
			if input == "" || !json.Valid(block.Input) {
				input = "{}"
			}
			calls = append(calls, gatewaytypes.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: gatewaytypes.ToolCallFunction{
					Name:      block.Name,
					Arguments: input,
				},
			})
		}
	}

	finish := "stop"
	switch msg.StopReason {
	case "tool_use":
		finish = "tool_calls"
	case "max_tokens":
		finish = "length"
	}

	return gatewaytypes.ChatResponse{
		Content:   content.String(),
		ToolCalls: calls,
		Usage: gatewaytypes.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
		FinishReason: finish,
	}
}
