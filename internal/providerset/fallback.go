package providerset

import (
	"context"
	"log/slog"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// fallbackProvider tries each provider in order, advancing to the next on
// any error from the current one. The
// teacher's retry.go has no notion of a fallback chain at all — it retries a
// single provider; this is new behavior layered on top of it.
type fallbackProvider struct {
	chain  []Provider
	logger *slog.Logger
}

// WithFallback returns a Provider that tries primary, then each of
// fallbacks in order, skipping to the next on any error from the one before.
func WithFallback(primary Provider, logger *slog.Logger, fallbacks ...Provider) Provider {
	if len(fallbacks) == 0 {
		return primary
	}
	return &fallbackProvider{chain: append([]Provider{primary}, fallbacks...), logger: logger}
}

func (f *fallbackProvider) Name() string { return f.chain[0].Name() }

func (f *fallbackProvider) Chat(ctx context.Context, req gatewaytypes.ChatRequest) (gatewaytypes.ChatResponse, error) {
	var lastErr error
	for i, p := range f.chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if f.logger != nil {
			f.logger.Warn("provider failed, trying next in chain", "provider", p.Name(), "position", i, "error", err)
		}
	}
	return gatewaytypes.ChatResponse{}, lastErr
}

func (f *fallbackProvider) ChatStream(ctx context.Context, req gatewaytypes.ChatRequest, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error) {
	var lastErr error
	for i, p := range f.chain {
		mid := make(chan gatewaytypes.StreamEvent, 64)
		var (
			resp      gatewaytypes.ChatResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = p.ChatStream(ctx, req, mid)
		}()

		var tokensSent bool
		for ev := range mid {
			tokensSent = true
			ch <- ev
		}
		<-done

		if streamErr == nil || tokensSent {
			close(ch)
			return resp, streamErr
		}
		lastErr = streamErr
		if f.logger != nil {
			f.logger.Warn("provider failed before first token, trying next in chain", "provider", p.Name(), "position", i, "error", streamErr)
		}
	}
	close(ch)
	return gatewaytypes.ChatResponse{}, lastErr
}

var _ Provider = (*fallbackProvider)(nil)
