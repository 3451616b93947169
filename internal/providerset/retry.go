package providerset

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// retryProvider wraps a Provider and automatically retries transient
// upstream failures (429 and 5xx) with exponential backoff.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	cap         time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption { return func(r *retryProvider) { r.maxAttempts = n } }

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles, capped at 30s.
func RetryBaseDelay(d time.Duration) RetryOption { return func(r *retryProvider) { r.baseDelay = d } }

// WithRetry wraps p with retry on transient upstream errors (429, 5xx).
// Backoff is exponential from baseDelay, capped at 30s, with ±25% jitter.
// A Retry-After value on the error is honored as a floor on the delay.
// Authentication failures (401/403) are never retried.
func WithRetry(p Provider, logger *slog.Logger, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		cap:         30 * time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req gatewaytypes.ChatRequest) (gatewaytypes.ChatResponse, error) {
	return retryCall(ctx, r, func() (gatewaytypes.ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// ChatStream retries only if no tokens have been written to ch yet; once
// streaming has started, errors pass through to avoid duplicate content.
func (r *retryProvider) ChatStream(ctx context.Context, req gatewaytypes.ChatRequest, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error) {
	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan gatewaytypes.StreamEvent, 64)
		var (
			resp      gatewaytypes.ChatResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.ChatStream(ctx, req, mid)
		}()

		var tokensSent bool
		for ev := range mid {
			tokensSent = true
			ch <- ev
		}
		<-done

		if streamErr == nil || !isTransient(streamErr) || tokensSent {
			close(ch)
			return resp, streamErr
		}

		lastErr = streamErr
		if r.logger != nil {
			r.logger.Warn("transient provider error, retrying", "provider", r.inner.Name(), "attempt", i+1, "max_attempts", r.maxAttempts)
		}
		if i < r.maxAttempts-1 {
			if err := sleepOrDone(ctx, retryDelay(r.baseDelay, r.cap, i, streamErr)); err != nil {
				close(ch)
				return gatewaytypes.ChatResponse{}, err
			}
		}
	}
	close(ch)
	return gatewaytypes.ChatResponse{}, lastErr
}

func retryCall(ctx context.Context, r *retryProvider, fn func() (gatewaytypes.ChatResponse, error)) (gatewaytypes.ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		if r.logger != nil {
			r.logger.Warn("transient provider error, retrying", "provider", r.inner.Name(), "status", statusOf(err), "attempt", i+1, "max_attempts", r.maxAttempts)
		}
		if i < r.maxAttempts-1 {
			if sleepErr := sleepOrDone(ctx, retryDelay(r.baseDelay, r.cap, i, err)); sleepErr != nil {
				return gatewaytypes.ChatResponse{}, sleepErr
			}
		}
	}
	return gatewaytypes.ChatResponse{}, last
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTransient reports whether err is a retryable upstream failure.
// Authentication failures are excluded explicitly, never retried.
func isTransient(err error) bool {
	var e *gatewaytypes.ErrUpstream
	if !errors.As(err, &e) {
		return false
	}
	if e.IsAuthFailure() {
		return false
	}
	return e.IsTransient()
}

func statusOf(err error) int {
	var e *gatewaytypes.ErrUpstream
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var e *gatewaytypes.ErrUpstream
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i: exponential backoff
// as a floor, the server's Retry-After value (if present) as a minimum.
func retryDelay(base, cap time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, cap, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed): base * 2^i capped
// at cap, plus or minus 25% jitter.
func retryBackoff(base, cap time.Duration, i int) time.Duration {
	exp := base * time.Duration(1<<i)
	if exp > cap {
		exp = cap
	}
	jitterRange := float64(exp) * 0.25
	jitter := (rand.Float64()*2 - 1) * jitterRange
	d := time.Duration(float64(exp) + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

var _ Provider = (*retryProvider)(nil)
