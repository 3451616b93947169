package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// Provider implements the gateway's provider adapter contract for any
// OpenAI-compatible API: OpenAI, Groq, DeepSeek, Together, Mistral, Ollama,
// vLLM, LM Studio, Azure OpenAI, and the local BaseURL configured for
// self-hosted models.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// ProviderOption configures a Provider instance.
type ProviderOption func(*Provider)

func WithName(name string) ProviderOption         { return func(p *Provider) { p.name = name } }
func WithHTTPClient(c *http.Client) ProviderOption { return func(p *Provider) { p.client = c } }
func WithOptions(opts ...Option) ProviderOption    { return func(p *Provider) { p.opts = append(p.opts, opts...) } }

// NewProvider creates an OpenAI-compatible chat provider. baseURL is the API
// base (e.g. "https://api.openai.com/v1"); "/chat/completions" is appended
// automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) requestOpts(req gatewaytypes.ChatRequest) []Option {
	opts := make([]Option, len(p.opts), len(p.opts)+3)
	copy(opts, p.opts)
	if req.Temperature != nil {
		opts = append(opts, WithTemperature(*req.Temperature))
	}
	if req.TopP != nil {
		opts = append(opts, WithTopP(*req.TopP))
	}
	if req.MaxTokens != nil {
		opts = append(opts, WithMaxTokens(*req.MaxTokens))
	}
	return opts
}

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req gatewaytypes.ChatRequest) (gatewaytypes.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, req.ResponseSchema, p.requestOpts(req)...)
	return p.doRequest(ctx, body)
}

// ChatStream streams text-delta events into ch, then returns the final
// accumulated response. The channel is closed when streaming completes
// (via StreamSSE) or on error before the first byte arrives.
func (p *Provider) ChatStream(ctx context.Context, req gatewaytypes.ChatRequest, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, req.ResponseSchema, p.requestOpts(req)...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return gatewaytypes.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return gatewaytypes.ChatResponse{}, p.httpErr(resp)
	}

	return StreamSSE(ctx, resp.Body, ch)
}

func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (gatewaytypes.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return gatewaytypes.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gatewaytypes.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return gatewaytypes.ChatResponse{}, &gatewaytypes.ErrUpstream{Provider: p.name, Body: fmt.Sprintf("decode response: %v", err)}
	}

	return ParseResponse(chatResp)
}

func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &gatewaytypes.ErrUpstream{Provider: p.name, Body: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &gatewaytypes.ErrUpstream{Provider: p.name, Body: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrUpstream for the
// retry/fallback layer, parsing Retry-After when the provider sent one.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &gatewaytypes.ErrUpstream{
		Provider:   p.name,
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter accepts either a delay in seconds or an HTTP-date, per
// RFC 9110 §10.2.3. Returns 0 when absent or unparsable.
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
