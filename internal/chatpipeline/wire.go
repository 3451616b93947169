package chatpipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// chatCompletion is the OpenAI chat.completion wire shape for the
// non-streaming response path.
type chatCompletion struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   gatewaytypes.Usage     `json:"usage"`
}

type chatCompletionChoice struct {
	Index        int                    `json:"index"`
	Message      gatewaytypes.ChatMessage `json:"message"`
	FinishReason string                 `json:"finish_reason"`
}

func chatCompletionResponse(model, content string, usage gatewaytypes.Usage) chatCompletion {
	return chatCompletion{
		ID:      "chatcmpl-" + gatewaytypes.NewID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatCompletionChoice{{
			Message:      gatewaytypes.AssistantMessage(content),
			FinishReason: "stop",
		}},
		Usage: usage,
	}
}

func chatCompletionFromResponse(resp gatewaytypes.ChatResponse) chatCompletion {
	msg := gatewaytypes.AssistantMessage(resp.Content)
	msg.ToolCalls = resp.ToolCalls
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return chatCompletion{
		ID:      "chatcmpl-" + gatewaytypes.NewID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []chatCompletionChoice{{Message: msg, FinishReason: finish}},
		Usage:   resp.Usage,
	}
}

// chatCompletionChunk is the OpenAI chat.completion.chunk wire shape for the
// streaming path.
type chatCompletionChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []chatChunkChoice   `json:"choices"`
}

type chatChunkChoice struct {
	Index        int             `json:"index"`
	Delta        chatChunkDelta  `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatChunkDelta struct {
	Role      string                   `json:"role,omitempty"`
	Content   string                   `json:"content,omitempty"`
	ToolCalls []chatChunkToolCallDelta `json:"tool_calls,omitempty"`
}

type chatChunkToolCallDelta struct {
	Index    int                      `json:"index"`
	ID       string                   `json:"id,omitempty"`
	Type     string                   `json:"type,omitempty"`
	Function chatChunkFunctionDelta   `json:"function"`
}

type chatChunkFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// sseWriter wraps a ResponseWriter with the id/model/object boilerplate every
// chunk of one response shares, and flushes after each write so the client
// sees tokens as they arrive — the streaming counterpart of cmd/sandbox's
// buffered writeJSON, grounded on the same "never let Go buffer the
// response" concern as loop.go's stream forwarding.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created int64
}

func newSSEWriter(w http.ResponseWriter, model string) *sseWriter {
	sendStreamHeaders(w)
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher, id: "chatcmpl-" + gatewaytypes.NewID(), model: model, created: time.Now().Unix()}
}

func sendStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) chunk(delta chatChunkDelta, finish *string) {
	c := chatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []chatChunkChoice{{Delta: delta, FinishReason: finish}},
	}
	s.write(c)
}

func (s *sseWriter) textDelta(text string) {
	s.chunk(chatChunkDelta{Content: text}, nil)
}

// toolCallChunks emits the start-then-arguments pair for one tool call. The
// provider adapters never expose incremental tool-call deltas (they only
// surface EventTextDelta on the channel), so this is the earliest point a
// client can learn about a call: immediately after ChatStream returns with
// the full accumulated ChatResponse, not truly token-by-token.
func (s *sseWriter) toolCallChunks(calls []gatewaytypes.ToolCall) {
	for i, c := range calls {
		s.chunk(chatChunkDelta{ToolCalls: []chatChunkToolCallDelta{{
			Index: i, ID: c.ID, Type: "function",
			Function: chatChunkFunctionDelta{Name: c.Function.Name},
		}}}, nil)
		s.chunk(chatChunkDelta{ToolCalls: []chatChunkToolCallDelta{{
			Index:    i,
			Function: chatChunkFunctionDelta{Arguments: c.Function.Arguments},
		}}}, nil)
	}
}

func (s *sseWriter) finish(reason string) {
	s.chunk(chatChunkDelta{}, &reason)
	s.done()
}

func (s *sseWriter) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// comment writes an SSE comment line: ignored by every standard SSE parser
// (anything starting with ':' is a no-op per the spec), but visible to a
// raw stream tail. Used to surface gateway-internal tool-call progress
// without inventing a non-standard data event shape.
func (s *sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// writeHaltStream serves a guardrail halt as a single-chunk stream, so the
// client sees the canned response through the same protocol it expected
// whether or not the request was actually forwarded to a model.
func writeHaltStream(w http.ResponseWriter, text string) {
	s := newSSEWriter(w, "")
	s.chunk(chatChunkDelta{Role: gatewaytypes.RoleAssistant}, nil)
	s.textDelta(text)
	s.finish("stop")
}
