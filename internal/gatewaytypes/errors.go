package gatewaytypes

import (
	"fmt"
	"time"
)

// The error kinds below are the taxonomy from the gateway's error-handling
// design: small structs satisfying error, inspected via errors.As at the
// HTTP boundary to pick a status code. Modeled directly on the teacher's
// ErrLLM/ErrHTTP shape (errors.go), generalized with the fields those two
// divergent snapshots were each missing (RetryAfter, a Kind-complete set).

// ErrParse — malformed HTTP or JSON. Maps to 400.
type ErrParse struct {
	Detail string
}

func (e *ErrParse) Error() string { return "parse: " + e.Detail }

// ErrAuth — missing/invalid credential. Maps to 401. The body must never
// include Detail; it exists only for audit logging.
type ErrAuth struct {
	Detail string
}

func (e *ErrAuth) Error() string { return "auth: " + e.Detail }

// ErrAuthorization — level insufficient or cloud tier denied. Maps to 403.
type ErrAuthorization struct {
	Required AccessLevel
	Detail   string
}

func (e *ErrAuthorization) Error() string {
	return fmt.Sprintf("authorization: requires %s: %s", e.Required, e.Detail)
}

// ErrRateLimit — sliding window exceeded. Maps to 429.
type ErrRateLimit struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimit) Error() string { return "rate limit exceeded" }

// ErrUpstream — a provider-side failure. Status carries the provider's HTTP
// status when known (0 if the request never reached the wire). RetryAfter
// is populated from a Retry-After header when the provider sent one.
type ErrUpstream struct {
	Provider   string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrUpstream) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.Status, e.Body)
}

// IsAuthFailure reports whether the upstream rejected credentials — these
// must never be retried (spec.md §4.8).
func (e *ErrUpstream) IsAuthFailure() bool {
	return e.Status == 401 || e.Status == 403
}

// IsTransient reports whether the upstream failure is worth retrying.
func (e *ErrUpstream) IsTransient() bool {
	return e.Status == 429 || (e.Status >= 500 && e.Status < 600)
}

// ErrStreamInterrupted — the upstream died mid-stream, after headers were
// already sent. Never surfaced as a broken HTTP response; always converted
// to a synthesized SSE content chunk by the caller.
type ErrStreamInterrupted struct {
	Cause error
}

func (e *ErrStreamInterrupted) Error() string { return fmt.Sprintf("stream interrupted: %v", e.Cause) }
func (e *ErrStreamInterrupted) Unwrap() error  { return e.Cause }

// ErrToolExecution — a tool call failed. Never propagated to the client as
// an HTTP error; always returned to the model as a role:tool message.
type ErrToolExecution struct {
	ToolName string
	Detail   string
}

func (e *ErrToolExecution) Error() string {
	return fmt.Sprintf("tool %q: %s", e.ToolName, e.Detail)
}

// ErrConfigMissing — no API key configured for the selected provider, after
// fallbacks were tried. Maps to 500 with an actionable message.
type ErrConfigMissing struct {
	Provider string
}

func (e *ErrConfigMissing) Error() string {
	return fmt.Sprintf("no API key configured for provider %q", e.Provider)
}

// ErrFatal — a startup failure (bind failure, malformed required config).
// The process reports it and exits non-zero.
type ErrFatal struct {
	Detail string
}

func (e *ErrFatal) Error() string { return "fatal: " + e.Detail }

// ErrHalt signals a guardrail's decision to short-circuit a request with a
// canned, graceful response rather than forwarding to the model. Directly
// ported from the teacher's guardrail.go, which uses this same pattern to
// let a PreLLM hook end a turn early without treating it as a failure.
type ErrHalt struct {
	Response string
}

func (e *ErrHalt) Error() string { return "halted: " + e.Response }
