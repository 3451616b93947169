// Package chatpipeline implements ChatPipeline: the POST /v1/chat/completions
// and GET /v1/models handlers. Grounded primarily on app.go's handleAction
// (the older inline tool-calling loop, read here for idiom only) and on
// loop.go/agentcore.go's runLoop — the teacher's own "newer" pipeline, which
// this package follows throughout rather than the older one, the same
// decision the teacher itself made when agentcore.go superseded app.go's
// inline loop. Message assembly (system + memory + history + user) is
// grounded on agentmemory.go's buildMessages.
package chatpipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/guardrail"
	"github.com/torbolabs/torbobase/internal/httpserver"
	"github.com/torbolabs/torbobase/internal/providerset"
	"github.com/torbolabs/torbobase/internal/toolloop"
)

// maxRequestBodyBytes caps the inbound chat-completions body, the same
// defend-against-unbounded-body idiom as cmd/sandbox/handler.go's
// io.LimitReader wrapping.
const maxRequestBodyBytes = 25 * 1024 * 1024

// AgentResolver looks up a configured agent persona by ID, for Stage 1's
// preferred-model fallback and Stage 2's identity enrichment.
type AgentResolver func(agentID string) (gatewaytypes.AgentConfig, bool)

// ProviderFactory builds a Provider for a resolved (providerName, model)
// pair. The returned Provider is expected to already carry retry and
// fallback behavior (internal/providerset.WithRetry/WithFallback) — this
// package calls it exactly once per request and does not wrap it further.
type ProviderFactory func(providerName, model string) (providerset.Provider, error)

// ToolCatalog composes the server-side + MCP tool list available to a
// request at a given access level (spec.md §4.6 Stage 3).
type ToolCatalog func(level gatewaytypes.AccessLevel) []gatewaytypes.ToolDefinition

// MemoryEnricher implements the Stage 2 "memory collaborator" contract: it
// receives the pipeline's enrichment inputs and returns the (possibly
// prepended) message list. The pipeline specifies only the contract; what
// gets injected is entirely this function's call, mirroring agentmemory.go's
// buildSystemPrompt/buildMessages split between mechanical assembly and
// memory-specific content.
type MemoryEnricher func(ctx context.Context, messages []gatewaytypes.ChatMessage, level gatewaytypes.AccessLevel, toolNames []string, clientProvidedSystem bool, agentID, platform string) []gatewaytypes.ChatMessage

// CommitmentsFunc sniffs the last user message for actionable commitments
// and persists anything found independently of the response (Stage 4,
// fire-and-forget).
type CommitmentsFunc func(ctx context.Context, userText, agentID string)

// ForwardFunc hands a completed (user, assistant) exchange to a registered
// collaborator, e.g. a messaging-bridge notifier (Stage 7).
type ForwardFunc func(ctx context.Context, agentID, userText, assistantText string)

// ConversationStore is the subset of internal/store.DB the pipeline needs
// for Stage 5/7 logging, kept as an interface so tests can supply a fake.
type ConversationStore interface {
	AppendMessage(ctx context.Context, sessionID string, m gatewaytypes.ConversationMessage) error
}

// ModelInfo is one entry in the GET /v1/models listing.
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// Deps are the Pipeline's collaborators. Every function field is optional
// except Providers; a nil optional field disables that stage.
type Deps struct {
	Providers            ProviderFactory
	DefaultModel         string
	Agents               AgentResolver
	Tools                ToolCatalog
	ToolExec             toolloop.ExecFunc
	Memory               MemoryEnricher
	Commitments          CommitmentsFunc
	Store                ConversationStore
	Forwarders           []ForwardFunc
	SettingsSystemPrompt string
	Models               func() []ModelInfo
	PreProcessors        []guardrail.PreProcessor
	PostProcessors       []guardrail.PostProcessor
	Logger               *slog.Logger
}

// Pipeline wires the dependencies into the two HTTP handlers.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}
}

// requestContext carries the per-request values threaded through every
// stage, assembled once at the top of HandleChatCompletions.
type requestContext struct {
	agentID     string
	platform    string
	clientIP    string
	level       gatewaytypes.AccessLevel
	sessionID   string
	agent       gatewaytypes.AgentConfig
	hasAgent    bool
}

func (p *Pipeline) newRequestContext(r *http.Request) requestContext {
	agentID := r.Header.Get("x-torbo-agent-id")
	rc := requestContext{
		agentID:  agentID,
		platform: r.Header.Get("x-torbo-platform"),
		clientIP: httpserver.ClientIPFromContext(r.Context()),
		level:    httpserver.EffectiveLevelFromContext(r.Context()),
	}
	rc.sessionID = agentID
	if rc.sessionID == "" {
		rc.sessionID = rc.clientIP
	}
	if agentID != "" && p.deps.Agents != nil {
		rc.agent, rc.hasAgent = p.deps.Agents(agentID)
	}
	return rc
}

// HandleChatCompletions serves POST /v1/chat/completions.
func (p *Pipeline) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := p.newRequestContext(r)

	if len(r.TransferEncoding) > 0 && r.ContentLength < 0 {
		writeErrorMessage(w, http.StatusLengthRequired, "Content-Length is required")
		return
	}

	var req gatewaytypes.ChatRequest
	body := io.LimitReader(r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	// Stage 1 — resolve model and provider.
	model := resolveModel(req, rc.agent, rc.hasAgent, p.deps.DefaultModel)
	providerName := providerForModel(model)
	prov, err := p.deps.Providers(providerName, model)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, (&gatewaytypes.ErrConfigMissing{Provider: providerName}).Error())
		return
	}

	// Stage 2 — enrichment.
	clientSystem := hasClientSystemMessage(req.Messages)
	p.enrich(ctx, &req, rc, clientSystem)

	// Stage 3 — tool injection.
	p.injectTools(&req, rc.level)
	registry := toolDefMap(req.Tools)

	if halt := p.runPreLLM(ctx, &req); halt != nil {
		if req.Stream {
			writeHaltStream(w, halt.Response)
		} else {
			writeJSON(w, http.StatusOK, chatCompletionResponse(model, halt.Response, gatewaytypes.Usage{}))
		}
		return
	}

	// Stage 4 — commitments sniff (fire-and-forget).
	userText := lastUserText(req.Messages)
	if p.deps.Commitments != nil && userText != "" {
		go p.deps.Commitments(context.WithoutCancel(ctx), userText, rc.agentID)
	}

	// Stage 5 — user message logging.
	p.logMessage(ctx, rc, gatewaytypes.RoleUser, userText, "")

	// Stage 6 — dispatch.
	managedTools := hasGatewayManagedTools(req.Tools)
	switch {
	case req.Stream && managedTools:
		p.dispatchStreamingManaged(ctx, w, prov, req, registry, model, rc, userText)
	case req.Stream:
		p.dispatchStreamingDirect(ctx, w, prov, req, model, rc, userText)
	default:
		p.dispatchNonStreaming(ctx, w, prov, req, registry, model, rc, userText)
	}
}

// HandleModels serves GET /v1/models.
func (p *Pipeline) HandleModels(w http.ResponseWriter, r *http.Request) {
	var models []ModelInfo
	if p.deps.Models != nil {
		models = p.deps.Models()
	}
	data := make([]map[string]any, 0, len(models))
	now := time.Now().Unix()
	for _, m := range models {
		data = append(data, map[string]any{
			"id":       m.ID,
			"object":   "model",
			"created":  now,
			"owned_by": m.OwnedBy,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// resolveModel implements Stage 1's model-selection precedence: explicit
// body field, then the agent's preferred model, then the local default.
func resolveModel(req gatewaytypes.ChatRequest, agent gatewaytypes.AgentConfig, hasAgent bool, defaultModel string) string {
	if req.Model != "" {
		return req.Model
	}
	if hasAgent && agent.PreferredModel != "" {
		return agent.PreferredModel
	}
	return defaultModel
}

// providerForModel maps a model name's prefix to a provider key (spec.md
// §4.6 Stage 1).
func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	case strings.HasPrefix(model, "grok"):
		return "xai"
	default:
		return "local"
	}
}

func hasClientSystemMessage(messages []gatewaytypes.ChatMessage) bool {
	return len(messages) > 0 && messages[0].Role == gatewaytypes.RoleSystem
}

func lastUserText(messages []gatewaytypes.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == gatewaytypes.RoleUser {
			return messages[i].Content.ExtractText()
		}
	}
	return ""
}

func hasGatewayManagedTools(tools []gatewaytypes.ToolDefinition) bool {
	for _, t := range tools {
		if t.ExecutableHere {
			return true
		}
	}
	return false
}

func toolDefMap(tools []gatewaytypes.ToolDefinition) map[string]gatewaytypes.ToolDefinition {
	m := make(map[string]gatewaytypes.ToolDefinition, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

// logMessage implements the Stage 5 / Stage 7 conversation logging. role is
// "user" or "assistant"; model is set on assistant entries only.
func (p *Pipeline) logMessage(ctx context.Context, rc requestContext, role, text, model string) {
	if p.deps.Store == nil || text == "" {
		return
	}
	_ = p.deps.Store.AppendMessage(ctx, rc.sessionID, gatewaytypes.ConversationMessage{
		ID:        gatewaytypes.NewID(),
		Role:      role,
		Content:   gatewaytypes.TextContent(text),
		Model:     model,
		Timestamp: time.Now().Unix(),
		ClientIP:  rc.clientIP,
		AgentID:   rc.agentID,
	})
}

// postResponse implements Stage 7: assistant-message logging and
// collaborator forwarding (token usage is already filled in by ensureUsage
// before it is called). Runs detached from the request
// context so a slow forwarder never delays the HTTP response, the same
// rationale as agentmemory.go's persistMessages goroutine.
func (p *Pipeline) postResponse(ctx context.Context, rc requestContext, model, userText string, resp gatewaytypes.ChatResponse) {
	bg := context.WithoutCancel(ctx)
	go func() {
		p.logMessage(bg, rc, gatewaytypes.RoleAssistant, resp.Content, model)
		for _, fwd := range p.deps.Forwarders {
			fwd(bg, rc.agentID, userText, resp.Content)
		}
	}()
}

// runPreLLM runs every configured pre-processor against req, in order,
// stopping at the first halt. A non-halt error is logged and otherwise
// ignored, the same "guardrails degrade open" posture as guardrail.go's
// callers.
func (p *Pipeline) runPreLLM(ctx context.Context, req *gatewaytypes.ChatRequest) *gatewaytypes.ErrHalt {
	for _, pp := range p.deps.PreProcessors {
		if err := pp.PreLLM(ctx, req); err != nil {
			var halt *gatewaytypes.ErrHalt
			if ok := asHalt(err, &halt); ok {
				return halt
			}
			p.deps.Logger.Warn("pre-llm guard error", "err", err)
		}
	}
	return nil
}

// runPostLLM runs every configured post-processor against resp. A halt here
// replaces resp.Content with the canned response rather than rejecting the
// whole exchange, since the model has already been charged for the call.
func (p *Pipeline) runPostLLM(ctx context.Context, resp *gatewaytypes.ChatResponse) {
	for _, pp := range p.deps.PostProcessors {
		if err := pp.PostLLM(ctx, resp); err != nil {
			var halt *gatewaytypes.ErrHalt
			if asHalt(err, &halt) {
				resp.Content = halt.Response
				resp.ToolCalls = nil
				continue
			}
			p.deps.Logger.Warn("post-llm guard error", "err", err)
		}
	}
}

func asHalt(err error, target **gatewaytypes.ErrHalt) bool {
	h, ok := err.(*gatewaytypes.ErrHalt)
	if ok {
		*target = h
	}
	return ok
}

func ensureUsage(req gatewaytypes.ChatRequest, resp *gatewaytypes.ChatResponse) {
	if resp.Usage.InputTokens != 0 || resp.Usage.OutputTokens != 0 {
		return
	}
	var inputChars int
	for _, m := range req.Messages {
		inputChars += len(m.Content.ExtractText())
	}
	resp.Usage = gatewaytypes.EstimateUsage(inputChars, len(resp.Content))
}
