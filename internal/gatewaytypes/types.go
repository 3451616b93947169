// Package gatewaytypes holds the data model shared by every component of the
// gateway: the OpenAI-shaped chat protocol, the access-control records, and
// the conversation-context and audit records. Keeping these in one package
// (rather than under the teacher's single root package) avoids import cycles
// between httpserver, chatpipeline, and the provider adapters, which all need
// the same vocabulary.
package gatewaytypes

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a time-sortable UUIDv7, the same scheme the teacher uses for
// every generated identifier (messages, audit entries, events).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AccessLevel is an ordered capability level. Higher values can do strictly
// more than lower ones; a request's effective level is always the minimum of
// what the agent is configured for and what the caller asked for.
type AccessLevel int

const (
	LevelOff AccessLevel = iota
	LevelChat
	LevelRead
	LevelWrite
	LevelExecute
	LevelFull
)

func (l AccessLevel) String() string {
	switch l {
	case LevelOff:
		return "OFF"
	case LevelChat:
		return "CHAT"
	case LevelRead:
		return "READ"
	case LevelWrite:
		return "WRITE"
	case LevelExecute:
		return "EXECUTE"
	case LevelFull:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}

// Clamp returns the minimum of l and requested — a header may only lower the
// effective level, never raise it.
func (l AccessLevel) Clamp(requested AccessLevel) AccessLevel {
	if requested < l {
		return requested
	}
	return l
}

// ParseAccessLevel converts a numeric level (as sent in the
// x-torbo-access-level header) to an AccessLevel. Out-of-range values clamp to the nearest
// valid bound rather than erroring, since the header may only ever lower
// capability — an oversized value is harmless.
func ParseAccessLevel(n int) AccessLevel {
	switch {
	case n < int(LevelOff):
		return LevelOff
	case n > int(LevelFull):
		return LevelFull
	default:
		return AccessLevel(n)
	}
}

// AgentConfig is a named persona: its own access level, preferred model, and
// identity prompt template.
type AgentConfig struct {
	ID                     string      `json:"id"`
	Name                   string      `json:"name"`
	AccessLevel            AccessLevel `json:"accessLevel"`
	PreferredModel         string      `json:"preferredModel,omitempty"`
	IdentityBlockTemplate  string      `json:"identityBlockTemplate,omitempty"`
	VoiceTone              string      `json:"voiceTone,omitempty"`
	Personality            string      `json:"personality,omitempty"`
	CustomInstructions     string      `json:"customInstructions,omitempty"`
	BackgroundKnowledge    string      `json:"backgroundKnowledge,omitempty"`
}

// CapLevel enforces the AgentConfig invariant: accessLevel <= global.accessLevel.
// Attempts to set a higher value are silently capped, never rejected.
func (a *AgentConfig) CapLevel(global AccessLevel) {
	if a.AccessLevel > global {
		a.AccessLevel = global
	}
}

// PairedDevice is a trusted client holding a persistent opaque bearer token.
type PairedDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Token    string `json:"-"` // never serialized back to clients
	PairedAt int64  `json:"pairedAt"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// SessionToken is an ephemeral webchat session, held in memory only and lost
// at process restart. Grants CHAT level and nothing more.
type SessionToken struct {
	Token     string
	IssuedAt  int64
}

// Role constants for ChatMessage and ConversationMessage.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content is the OpenAI dynamically-typed message-content shape: either a
// plain string, or a structured multi-part array (text + image + tool
// result parts). Modeled as a discriminated union with explicit
// constructors so extractors never need to guess which form they hold.
type Content struct {
	text  string
	parts []ContentPart
}

// ContentPart is one element of a structured, multi-part message body.
type ContentPart struct {
	Type     string `json:"type"` // "text" | "image_url" | "input_audio"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// TextContent constructs a plain-string Content.
func TextContent(s string) Content { return Content{text: s} }

// PartsContent constructs a structured multi-part Content.
func PartsContent(parts ...ContentPart) Content { return Content{parts: parts} }

// IsEmpty reports whether the content carries neither text nor parts.
func (c Content) IsEmpty() bool { return c.text == "" && len(c.parts) == 0 }

// ExtractText returns the text representation of the content: the plain
// string form directly, or the concatenation of all text parts for the
// structured form. Non-text parts are left out of the result — callers that
// need them should inspect Parts() directly (used by audit/logging paths that
// must not lose multi-part attachments).
func (c Content) ExtractText() string {
	if c.parts == nil {
		return c.text
	}
	var b strings.Builder
	for _, p := range c.parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Parts returns the structured parts, or a single synthesized text part when
// the content was constructed as a plain string.
func (c Content) Parts() []ContentPart {
	if c.parts != nil {
		return c.parts
	}
	if c.text == "" {
		return nil
	}
	return []ContentPart{{Type: "text", Text: c.text}}
}

// MarshalJSON emits a bare string for plain content and an array for
// structured content, matching the OpenAI wire shape exactly.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.parts == nil {
		return json.Marshal(c.text)
	}
	return json.Marshal(c.parts)
}

// UnmarshalJSON accepts either shape.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = Content{parts: parts}
	return nil
}

// Attachment is a multimodal payload attached to a message.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data,omitempty"` // raw bytes, present for inline attachments
	URL      string `json:"url,omitempty"`  // present for URL-referenced attachments
}

// InlineData reports whether the attachment carries inline bytes rather than
// a URL reference.
func (a Attachment) InlineData() bool { return len(a.Data) > 0 }

// ToolCall is one function-call entry in an assistant message, in OpenAI
// wire shape: arguments travel as a JSON-encoded string, not a nested object.
type ToolCall struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"` // always "function"
	Function  ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded object, or "" while streaming
}

// ChatMessage is one OpenAI-protocol message.
type ChatMessage struct {
	Role        string       `json:"role"`
	Content     Content      `json:"content"`
	Attachments []Attachment `json:"-"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	Name        string       `json:"name,omitempty"`
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: TextContent(text)}
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: TextContent(text)}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: TextContent(text)}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, ToolCallID: callID, Content: TextContent(content)}
}

// ResponseSchema requests structured JSON output from the model.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// ToolDefinition describes one callable capability exposed to the model.
// ExecutableHere distinguishes server-side (built-in) tools from client-side
// ones returned to the caller to execute. Sequential marks tools whose
// side effects must not run concurrently with other calls in the same round
// (file-mutation tools default to true; everything else defaults to false).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	ExecutableHere bool         `json:"-"`
	Sequential     bool         `json:"-"`
}

// ToolChoice mirrors the OpenAI tool_choice field: either a bare string
// ("auto"/"required"/"none") or an object pinning one function by name.
type ToolChoice struct {
	Mode     string // "auto", "required", "none", "function"
	Function string // set when Mode == "function"
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Mode == "function" {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": t.Function},
		})
	}
	if t.Mode == "" {
		t.Mode = "auto"
	}
	return json.Marshal(t.Mode)
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = ToolChoice{Mode: s}
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = ToolChoice{Mode: "function", Function: obj.Function.Name}
	return nil
}

// Usage reports token accounting. Exact when the provider supplies it;
// estimated as chars/4 otherwise (spec.md Stage 7).
type Usage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
}

// EstimateUsage estimates token usage from raw character counts when a
// provider response carries no usage field.
func EstimateUsage(inputChars, outputChars int) Usage {
	return Usage{InputTokens: inputChars / 4, OutputTokens: outputChars / 4}
}

// ChatRequest is the OpenAI-shaped inbound request body.
type ChatRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []ChatMessage   `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  *ToolChoice     `json:"tool_choice,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	ResponseSchema *ResponseSchema `json:"-"`
}

// ChatResponse is the OpenAI-shaped non-streaming response.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop" | "tool_calls" | "length"
	Usage        Usage
	Model        string
}

// StreamEventType enumerates the internal progress-event vocabulary used on
// the gateway-managed SSE path (tool-loop progress, not the raw provider
// chunk format).
type StreamEventType string

const (
	EventTextDelta      StreamEventType = "text_delta"
	EventToolCallStart  StreamEventType = "tool_call_start"
	EventToolCallResult StreamEventType = "tool_call_result"
	EventProgress       StreamEventType = "progress"
	EventFinish         StreamEventType = "finish"
)

// StreamEvent is one internally generated progress notification, translated
// by the pipeline into a synthesized OpenAI chunk before it reaches the wire.
type StreamEvent struct {
	Type    StreamEventType
	Name    string
	Content string
	Args    json.RawMessage
}

// ConversationMessage is one append-only entry in a session's persisted log.
type ConversationMessage struct {
	ID        string  `json:"id"`
	Role      string  `json:"role"`
	Content   Content `json:"content"`
	Model     string  `json:"model,omitempty"`
	Timestamp int64   `json:"timestamp"`
	ClientIP  string  `json:"clientIP"`
	AgentID   string  `json:"agentID,omitempty"`
}

// AuditEntry records one AccessGuard decision.
type AuditEntry struct {
	Timestamp     int64       `json:"timestamp"`
	ClientIP      string      `json:"clientIP"`
	Method        string      `json:"method"`
	Path          string      `json:"path"`
	RequiredLevel AccessLevel `json:"requiredLevel"`
	Granted       bool        `json:"granted"`
	Detail        string      `json:"detail,omitempty"`
}

// Event is a named, timestamped fact published on the event bus.
type Event struct {
	Name      string            `json:"name"`
	Payload   map[string]string `json:"payload,omitempty"`
	Source    string            `json:"source"`
	Timestamp int64             `json:"timestamp"`
}

// BufferedMessage is one entry in a ConvContext rolling buffer.
type BufferedMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

const maxBufferedContentBytes = 32 * 1024

// CapContent truncates content to the 32 KiB buffered-message cap.
func CapContent(s string) string {
	if len(s) <= maxBufferedContentBytes {
		return s
	}
	return s[:maxBufferedContentBytes]
}

// ChannelState is the per-channel rolling-buffer state owned by ConvContext.
type ChannelState struct {
	Buffer       []BufferedMessage
	Summary      string
	LastActivity int64
	Resuming     bool
}
