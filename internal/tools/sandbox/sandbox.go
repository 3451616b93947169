// Package sandbox implements the code_execute tool: run a short Python or
// Node.js snippet and hand back whatever it passed to set_result(), plus
// its captured stderr (plain stdout output is not returned). Adapted from
// cmd/sandbox's standalone
// execution microservice, folded into an in-process toolloop.ExecFunc
// instead of a separate HTTP server, and given a Docker-backed runner when
// a daemon is reachable so the snippet runs with no network and a resource
// ceiling rather than bare on the gateway's own host.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

const (
	defaultTimeoutSecs = 30
	maxTimeoutSecs      = 120
	maxOutputBytes      = 256 * 1024
	sessionTTL          = 30 * time.Minute
	sessionSweepInterval = 5 * time.Minute
	defaultMaxConcurrent = 4
)

// codeRunner executes one request and returns its outcome. subprocessRunner
// and dockerRunner both satisfy it; Tool picks whichever is available once,
// at construction time.
type codeRunner interface {
	run(ctx context.Context, req runRequest) runResult
}

// execArgs is the JSON shape the model supplies as tool-call arguments.
type execArgs struct {
	Code      string      `json:"code"`
	Runtime   string      `json:"runtime"`
	SessionID string      `json:"session_id"`
	Timeout   int         `json:"timeout_seconds"`
	Files     []inputFile `json:"files,omitempty"`
}

type inputFile struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}

type outputFile struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data string `json:"data"` // base64
}

// execResult is what Exec serializes back to the model.
type execResult struct {
	Output   string       `json:"output,omitempty"`
	Logs     string       `json:"logs,omitempty"`
	ExitCode int          `json:"exit_code"`
	Error    string       `json:"error,omitempty"`
	Files    []outputFile `json:"files,omitempty"`
}

// Tool runs code_execute calls against whichever codeRunner was selected
// at construction, bounding concurrency with a buffered-channel semaphore
// the same way cmd/sandbox/handler.go bounds its HTTP handler.
type Tool struct {
	runner   codeRunner
	sessions *sessionManager
	sem      chan struct{}
	isDocker bool
}

// Options configures New. PythonBin/NodeBin/MaxOutputBytes only matter for
// the subprocess backend; DockerBackend gates whether New even attempts to
// probe for a daemon.
type Options struct {
	WorkspaceRoot  string
	PythonBin      string
	NodeBin        string
	MaxConcurrent  int
	MaxOutputBytes int
	DockerBackend  bool
}

// New builds a Tool rooted at opts.WorkspaceRoot. When opts.DockerBackend is
// set it probes for a reachable Docker daemon and uses it; otherwise, or if
// no daemon answers, it falls back to running snippets as bare subprocesses,
// since an offline-first gateway shouldn't refuse code execution just
// because Docker isn't installed.
func New(opts Options) *Tool {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = maxOutputBytes
	}
	sessions := newSessionManager(opts.WorkspaceRoot, sessionTTL)
	sessions.start(sessionSweepInterval)

	var runner codeRunner
	isDocker := false
	if opts.DockerBackend {
		if dr, ok := newDockerRunner(); ok {
			runner, isDocker = dr, true
		}
	}
	if runner == nil {
		runner = newSubprocessRunner(opts.PythonBin, opts.NodeBin, maxOutput)
	}

	return &Tool{runner: runner, sessions: sessions, sem: make(chan struct{}, maxConcurrent), isDocker: isDocker}
}

// Close stops the workspace-eviction goroutine. Call it on gateway shutdown.
func (t *Tool) Close() { t.sessions.close() }

// Definition returns the tool's OpenAI-shaped function definition.
func Definition() gatewaytypes.ToolDefinition {
	return gatewaytypes.ToolDefinition{
		Name: "code_execute",
		Description: "Run a short Python or Node.js snippet in an isolated workspace. Call set_result(data, files=[...]) " +
			"to return a value and, optionally, declare output files written into the workspace to hand back.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "The snippet to run."},
				"runtime": {"type": "string", "enum": ["python", "node"], "description": "Defaults to python."},
				"session_id": {"type": "string", "description": "Reuse a workspace across calls in this conversation."},
				"timeout_seconds": {"type": "integer", "description": "Defaults to 30, capped at 120."}
			},
			"required": ["code"]
		}`),
		ExecutableHere: true,
	}
}

// Exec implements toolloop.ExecFunc.
func (t *Tool) Exec(ctx context.Context, name string, args string) (string, bool) {
	if name != "code_execute" {
		return fmt.Sprintf("error: unknown tool %q", name), true
	}

	var a execArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "invalid args: " + err.Error(), true
	}
	if a.Code == "" {
		return "code is required", true
	}
	if a.Runtime != "" && a.Runtime != "python" && a.Runtime != "node" {
		return fmt.Sprintf("unsupported runtime %q; use python or node", a.Runtime), true
	}
	if a.SessionID == "" {
		a.SessionID = "default"
	}
	timeout := defaultTimeoutSecs
	if a.Timeout > 0 {
		timeout = a.Timeout
	}
	if timeout > maxTimeoutSecs {
		timeout = maxTimeoutSecs
	}

	select {
	case t.sem <- struct{}{}:
		defer func() { <-t.sem }()
	default:
		return "sandbox is at capacity, try again shortly", true
	}

	workspaceDir, err := t.sessions.get(a.SessionID)
	if err != nil {
		return "workspace error: " + err.Error(), true
	}
	if err := writeInputFiles(workspaceDir, a.Files); err != nil {
		return "file write error: " + err.Error(), true
	}

	result := t.runner.run(ctx, runRequest{
		code:         a.Code,
		runtime:      a.Runtime,
		workspaceDir: workspaceDir,
		timeout:      time.Duration(timeout) * time.Second,
	})

	out := execResult{
		Output:   result.stdout,
		Logs:     truncate(result.stderr, maxOutputBytes),
		ExitCode: result.exitCode,
		Error:    result.err,
		Files:    collectOutputFiles(workspaceDir, result.files),
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "marshal error: " + err.Error(), true
	}
	return string(b), out.Error != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
