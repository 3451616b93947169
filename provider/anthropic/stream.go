package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// streamEvent mirrors the subset of Anthropic SSE event payloads this
// gateway cares about. Anthropic sends "event: <type>" then "data: <json>"
// line pairs; the JSON body also repeats "type", which is what's switched on.
type streamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock *contentBlock   `json:"content_block"`
	Delta        json.RawMessage `json:"delta"`
	Usage        *usageBlock     `json:"usage"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type messageDelta struct {
	StopReason string `json:"stop_reason"`
}

// streamSSE reads an Anthropic Messages API SSE stream, sends text-delta
// events to ch, and returns the fully accumulated response. Tool-call
// arguments arrive as input_json_delta fragments per content-block index;
// they are buffered and validated as JSON exactly once, after the stream
// ends — never emitted to the caller partially.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var usage gatewaytypes.Usage
	stopReason := ""

	type toolBuf struct {
		id, name string
		args     strings.Builder
	}
	tools := map[int]*toolBuf{}
	var order []int

	var currentEvent string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		case !strings.HasPrefix(line, "data: "):
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Type == "" {
			ev.Type = currentEvent
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock == nil {
				continue
			}
			if ev.ContentBlock.Type == "tool_use" {
				tb := &toolBuf{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				tools[ev.Index] = tb
				order = append(order, ev.Index)
			}

		case "content_block_delta":
			var kind struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(ev.Delta, &kind); err != nil {
				continue
			}
			switch kind.Type {
			case "text_delta":
				var d textDelta
				if err := json.Unmarshal(ev.Delta, &d); err == nil && d.Text != "" {
					fullContent.WriteString(d.Text)
					select {
					case ch <- gatewaytypes.StreamEvent{Type: gatewaytypes.EventTextDelta, Content: d.Text}:
					case <-ctx.Done():
						return gatewaytypes.ChatResponse{}, ctx.Err()
					}
				}
			case "input_json_delta":
				var d inputJSONDelta
				if err := json.Unmarshal(ev.Delta, &d); err == nil {
					if tb := tools[ev.Index]; tb != nil {
						tb.args.WriteString(d.PartialJSON)
					}
				}
			}

		case "message_delta":
			var d messageDelta
			if err := json.Unmarshal(ev.Delta, &d); err == nil && d.StopReason != "" {
				stopReason = d.StopReason
			}
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
				if ev.Usage.InputTokens > 0 {
					usage.InputTokens = ev.Usage.InputTokens
				}
			}

		case "message_start":
			// message_start carries the initial usage snapshot (input tokens).
			var wrapper struct {
				Message struct {
					Usage usageBlock `json:"usage"`
				} `json:"message"`
			}
			if err := json.Unmarshal([]byte(data), &wrapper); err == nil {
				usage.InputTokens = wrapper.Message.Usage.InputTokens
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return gatewaytypes.ChatResponse{}, err
	}

	var calls []gatewaytypes.ToolCall
	for _, idx := range order {
		tb := tools[idx]
		args := tb.args.String()
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		calls = append(calls, gatewaytypes.ToolCall{
			ID:   tb.id,
			Type: "function",
			Function: gatewaytypes.ToolCallFunction{
				Name:      tb.name,
				Arguments: args,
			},
		})
	}

	finish := "stop"
	switch {
	case stopReason == "tool_use" || len(calls) > 0:
		finish = "tool_calls"
	case stopReason == "max_tokens":
		finish = "length"
	}

	return gatewaytypes.ChatResponse{
		Content:      fullContent.String(),
		ToolCalls:    calls,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}
