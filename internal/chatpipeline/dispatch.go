package chatpipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/providerset"
	"github.com/torbolabs/torbobase/internal/toolloop"
)

// runToolLoop implements the §4.7 per-request tool-call state machine: call
// the provider, classify any tool calls it returns, and either hand the
// whole response back (a call to a tool the client declared is present
// anywhere in the round, which takes precedence over executing the server
// calls alongside it), execute the server calls and loop, or — when every
// call names a tool found in neither the gateway's catalog nor the client's
// declarations and the model produced no text of its own — retry once with
// tools stripped so the model is forced to answer in plain language. Calls
// to such unknown tools next to executable ones are not executed and not
// answered with a result. Grounded on
// loop.go's runLoop: same classify/dispatch/append-results/loop shape, with
// the client-vs-server split layered on top since the teacher never
// returned tool calls to its caller.
func (p *Pipeline) runToolLoop(ctx context.Context, prov providerset.Provider, req gatewaytypes.ChatRequest, registry map[string]gatewaytypes.ToolDefinition, onProgress func(gatewaytypes.StreamEvent)) (gatewaytypes.ChatResponse, error) {
	messages := append([]gatewaytypes.ChatMessage(nil), req.Messages...)
	retriedWithoutTools := false

	for round := 0; round < toolloop.MaxRounds; round++ {
		roundReq := req
		roundReq.Messages = messages

		resp, err := prov.Chat(ctx, roundReq)
		if err != nil {
			return resp, err
		}
		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		serverCalls, clientCalls := toolloop.Classify(resp.ToolCalls, registry)
		for _, c := range clientCalls {
			if _, declared := registry[c.Function.Name]; declared {
				return resp, nil
			}
		}
		if len(serverCalls) == 0 {
			if resp.Content == "" && !retriedWithoutTools && len(req.Tools) > 0 {
				req.Tools = nil
				req.ToolChoice = nil
				retriedWithoutTools = true
				continue
			}
			return resp, nil
		}

		for _, c := range serverCalls {
			if onProgress != nil {
				onProgress(gatewaytypes.StreamEvent{Type: gatewaytypes.EventToolCallStart, Name: c.Function.Name})
			}
		}

		results := toolloop.Run(ctx, serverCalls, registry, p.deps.ToolExec)

		assistantTurn := gatewaytypes.ChatMessage{Role: gatewaytypes.RoleAssistant, Content: gatewaytypes.TextContent(resp.Content), ToolCalls: serverCalls}
		messages = append(messages, assistantTurn)
		for _, r := range results {
			if onProgress != nil {
				onProgress(gatewaytypes.StreamEvent{Type: gatewaytypes.EventToolCallResult, Name: r.Call.Function.Name, Content: r.Content})
			}
			messages = append(messages, gatewaytypes.ToolResultMessage(r.Call.ID, r.Content))
		}
	}

	final := req
	final.Messages = messages
	final.Tools = nil
	final.ToolChoice = nil
	return prov.Chat(ctx, final)
}

// dispatchNonStreaming runs the tool loop to completion and replies with a
// single chat.completion body.
func (p *Pipeline) dispatchNonStreaming(ctx context.Context, w http.ResponseWriter, prov providerset.Provider, req gatewaytypes.ChatRequest, registry map[string]gatewaytypes.ToolDefinition, model string, rc requestContext, userText string) {
	resp, err := p.runToolLoop(ctx, prov, req, registry, nil)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	resp.Model = model
	ensureUsage(req, &resp)
	p.runPostLLM(ctx, &resp)

	writeJSON(w, http.StatusOK, chatCompletionFromResponse(resp))
	p.postResponse(ctx, rc, model, userText, resp)
}

// dispatchStreamingManaged runs the tool loop internally, surfacing each
// server-side call as an SSE comment line (ignored by strict SSE clients,
// visible to anything tailing the raw stream) and delivering the terminal
// round's answer as ordinary content chunks. The provider adapters never
// expose incremental tool-call deltas on their streaming channel — only the
// final accumulated ChatResponse carries ToolCalls — so this path cannot
// token-stream a round that ends in a tool call; only the very last,
// tool-free round is actual model output, which is what the client sees as
// content deltas.
func (p *Pipeline) dispatchStreamingManaged(ctx context.Context, w http.ResponseWriter, prov providerset.Provider, req gatewaytypes.ChatRequest, registry map[string]gatewaytypes.ToolDefinition, model string, rc requestContext, userText string) {
	sw := newSSEWriter(w, model)
	sw.chunk(chatChunkDelta{Role: gatewaytypes.RoleAssistant}, nil)

	resp, err := p.runToolLoop(ctx, prov, req, registry, func(ev gatewaytypes.StreamEvent) {
		sw.comment(fmt.Sprintf("%s %s", ev.Type, ev.Name))
	})
	if err != nil {
		sw.textDelta(fmt.Sprintf("\n[error: %v]\n", err))
		sw.finish("stop")
		return
	}
	resp.Model = model
	ensureUsage(req, &resp)
	p.runPostLLM(ctx, &resp)

	if resp.Content != "" {
		sw.textDelta(resp.Content)
	}
	finish := "stop"
	if len(resp.ToolCalls) > 0 {
		sw.toolCallChunks(resp.ToolCalls)
		finish = "tool_calls"
	}
	sw.finish(finish)
	p.postResponse(ctx, rc, model, userText, resp)
}

// dispatchStreamingDirect is the passthrough path: no gateway-managed tools
// are in play, so the provider's own token stream is forwarded chunk for
// chunk. Any tool calls the model produced are only known once ChatStream
// returns, so they're synthesized as a start+arguments chunk pair appended
// right before the terminal chunk rather than interleaved with the text
// that preceded them — a deliberate simplification forced by the adapters'
// channel contract (EventTextDelta only, no partial tool-call events).
func (p *Pipeline) dispatchStreamingDirect(ctx context.Context, w http.ResponseWriter, prov providerset.Provider, req gatewaytypes.ChatRequest, model string, rc requestContext, userText string) {
	sw := newSSEWriter(w, model)
	sw.chunk(chatChunkDelta{Role: gatewaytypes.RoleAssistant}, nil)

	ch := make(chan gatewaytypes.StreamEvent, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			if ev.Type == gatewaytypes.EventTextDelta {
				sw.textDelta(ev.Content)
			}
		}
	}()

	resp, err := prov.ChatStream(ctx, req, ch)
	wg.Wait()

	if err != nil {
		var interrupted *gatewaytypes.ErrStreamInterrupted
		if errors.As(err, &interrupted) {
			sw.textDelta(fmt.Sprintf("\n[stream interrupted: %v]\n", interrupted.Cause))
			sw.finish("stop")
			return
		}
		sw.textDelta(fmt.Sprintf("\n[error: %v]\n", err))
		sw.finish("stop")
		return
	}
	resp.Model = model
	ensureUsage(req, &resp)

	finish := "stop"
	if len(resp.ToolCalls) > 0 {
		sw.toolCallChunks(resp.ToolCalls)
		finish = "tool_calls"
	}
	sw.finish(finish)
	p.postResponse(ctx, rc, model, userText, resp)
}

// writeProviderError inspects err via errors.As against the gateway's error
// taxonomy and writes the matching status, the same kind-dispatch idiom as
// httpserver's writeError — duplicated rather than imported since httpserver
// keeps its helpers unexported (chatpipeline sits behind the router, not
// inside the httpserver package).
func writeProviderError(w http.ResponseWriter, err error) {
	var upstream *gatewaytypes.ErrUpstream
	var cfgErr *gatewaytypes.ErrConfigMissing

	switch {
	case errors.As(err, &upstream):
		if upstream.IsAuthFailure() {
			writeErrorMessage(w, upstream.Status, "upstream API key is invalid or expired")
			return
		}
		status := http.StatusBadGateway
		if upstream.Status >= 400 && upstream.Status < 600 {
			status = upstream.Status
		}
		writeJSON(w, status, map[string]any{
			"error": map[string]string{"message": upstream.Error(), "type": "upstream_error"},
		})
	case errors.As(err, &cfgErr):
		writeErrorMessage(w, http.StatusInternalServerError, cfgErr.Error())
	default:
		writeErrorMessage(w, http.StatusBadGateway, "provider request failed")
	}
}
