package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/torbolabs/torbobase/internal/convcontext"
	"github.com/torbolabs/torbobase/internal/eventbus"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// memoryEnricher builds a chatpipeline.MemoryEnricher backed by a
// convcontext.Manager: it prepends a running summary plus the still-buffered
// tail of a channel's history as a system message, then lets the caller's
// own messages follow undisturbed. It never replaces a client-supplied
// system message, only adds ahead of it.
func memoryEnricher(mgr *convcontext.Manager) func(ctx context.Context, messages []gatewaytypes.ChatMessage, level gatewaytypes.AccessLevel, toolNames []string, clientProvidedSystem bool, agentID, platform string) []gatewaytypes.ChatMessage {
	return func(ctx context.Context, messages []gatewaytypes.ChatMessage, level gatewaytypes.AccessLevel, toolNames []string, clientProvidedSystem bool, agentID, platform string) []gatewaytypes.ChatMessage {
		channelID := agentID
		if platform != "" {
			channelID = agentID + ":" + platform
		}
		state := mgr.Snapshot(channelID)
		if state.Summary == "" && len(state.Buffer) == 0 {
			return messages
		}

		var b strings.Builder
		b.WriteString("Conversation memory:\n")
		if state.Summary != "" {
			b.WriteString(state.Summary)
			b.WriteString("\n")
		}
		for _, m := range state.Buffer {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}

		mem := gatewaytypes.SystemMessage(b.String())
		out := make([]gatewaytypes.ChatMessage, 0, len(messages)+1)
		out = append(out, mem)
		out = append(out, messages...)
		return out
	}
}

// recordTurn appends the user/assistant exchange to the rolling buffer.
// Called as a chatpipeline ForwardFunc so the buffer stays current without
// the pipeline needing to know convcontext exists.
func recordTurn(mgr *convcontext.Manager) func(ctx context.Context, agentID, userText, assistantText string) {
	return func(ctx context.Context, agentID, userText, assistantText string) {
		now := time.Now().Unix()
		mgr.Append(ctx, agentID, gatewaytypes.BufferedMessage{Role: gatewaytypes.RoleUser, Content: userText, Timestamp: now})
		mgr.Append(ctx, agentID, gatewaytypes.BufferedMessage{Role: gatewaytypes.RoleAssistant, Content: assistantText, Timestamp: now})
	}
}

// publishTurn announces a completed chat turn on the event bus as
// system.agent.completed so live subscribers see gateway activity without
// polling the store. That name is not in the critical-prefix set, so these
// events are ring-buffered and broadcast but not persisted.
func publishTurn(bus *eventbus.Bus) func(ctx context.Context, agentID, userText, assistantText string) {
	return func(ctx context.Context, agentID, userText, assistantText string) {
		bus.Publish("system.agent.completed", map[string]string{
			"agentID": agentID,
		}, "chatpipeline")
	}
}

