package chatpipeline

import (
	"context"
	"strings"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// enrich implements Stage 2: a client-supplied system message is left as
// it is; otherwise a system message built from the server-configured
// settings prompt and the resolved agent's identity block is prepended
// (none when both are empty). Finally it hands the message list to the
// memory collaborator for history/recall injection.
// Directly grounded on agentmemory.go's buildSystemPrompt (base prompt +
// memory-context block, joined with blank lines) and buildMessages (system,
// then history, then the current turn).
func (p *Pipeline) enrich(ctx context.Context, req *gatewaytypes.ChatRequest, rc requestContext, clientSystem bool) {
	if !clientSystem {
		systemText := p.deps.SettingsSystemPrompt
		if identity := buildIdentityBlock(rc.agent, rc.hasAgent); identity != "" {
			systemText = joinPromptParts(systemText, identity)
		}
		if systemText != "" {
			req.Messages = append([]gatewaytypes.ChatMessage{gatewaytypes.SystemMessage(systemText)}, req.Messages...)
		}
	}

	if p.deps.Memory != nil {
		req.Messages = p.deps.Memory(ctx, req.Messages, rc.level, nil, clientSystem, rc.agentID, rc.platform)
	}
}

// buildIdentityBlock renders an agent's voice/personality/instructions into
// a single block appended after the base system prompt, following the
// shape of the teacher's identity-template substitution in buildSystemPrompt
// but working off AgentConfig's plain string fields instead of a template
// file, since torbobase agents are configured inline rather than on disk.
func buildIdentityBlock(agent gatewaytypes.AgentConfig, ok bool) string {
	if !ok {
		return ""
	}
	if agent.IdentityBlockTemplate != "" {
		return agent.IdentityBlockTemplate
	}
	var b strings.Builder
	if agent.Personality != "" {
		b.WriteString("Personality: ")
		b.WriteString(agent.Personality)
		b.WriteString("\n")
	}
	if agent.VoiceTone != "" {
		b.WriteString("Voice/tone: ")
		b.WriteString(agent.VoiceTone)
		b.WriteString("\n")
	}
	if agent.BackgroundKnowledge != "" {
		b.WriteString("Background: ")
		b.WriteString(agent.BackgroundKnowledge)
		b.WriteString("\n")
	}
	if agent.CustomInstructions != "" {
		b.WriteString(agent.CustomInstructions)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinPromptParts(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// injectTools implements Stage 3: composes the gateway's tool catalog for
// the caller's effective level and appends it to whatever tools the client
// already declared, defaulting tool_choice to "auto" when the client left
// it unset but tools are present. Grounded on agentCore.cacheBuiltinToolDefs
// + ToolRegistry.AllDefinitions (build the full catalog once, hand the whole
// slice to the model every turn).
func (p *Pipeline) injectTools(req *gatewaytypes.ChatRequest, level gatewaytypes.AccessLevel) {
	if p.deps.Tools != nil {
		req.Tools = append(req.Tools, p.deps.Tools(level)...)
	}
	if len(req.Tools) > 0 && req.ToolChoice == nil {
		req.ToolChoice = &gatewaytypes.ToolChoice{Mode: "auto"}
	}
}
