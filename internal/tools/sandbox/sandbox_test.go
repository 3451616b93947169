package sandbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// fakeRunner lets tests drive Tool.Exec without a real interpreter on PATH.
type fakeRunner struct {
	result runResult
}

func (f *fakeRunner) run(ctx context.Context, req runRequest) runResult {
	return f.result
}

func newTestTool(t *testing.T, rr runResult) *Tool {
	t.Helper()
	tool := &Tool{
		runner:   &fakeRunner{result: rr},
		sessions: newSessionManager(t.TempDir(), sessionTTL),
		sem:      make(chan struct{}, 1),
	}
	return tool
}

func TestExecUnknownTool(t *testing.T) {
	tool := newTestTool(t, runResult{})
	_, isErr := tool.Exec(context.Background(), "not_code_execute", `{"code":"1"}`)
	if !isErr {
		t.Fatal("expected an error for an unrecognized tool name")
	}
}

func TestExecRequiresCode(t *testing.T) {
	tool := newTestTool(t, runResult{})
	content, isErr := tool.Exec(context.Background(), "code_execute", `{"runtime":"python"}`)
	if !isErr {
		t.Fatalf("expected an error when code is missing, got %q", content)
	}
}

func TestExecRejectsBadRuntime(t *testing.T) {
	tool := newTestTool(t, runResult{})
	_, isErr := tool.Exec(context.Background(), "code_execute", `{"code":"1","runtime":"ruby"}`)
	if !isErr {
		t.Fatal("expected an error for an unsupported runtime")
	}
}

func TestExecReturnsRunnerOutput(t *testing.T) {
	tool := newTestTool(t, runResult{stdout: `{"ok":true}`, exitCode: 0})
	content, isErr := tool.Exec(context.Background(), "code_execute", `{"code":"set_result({'ok': True})"}`)
	if isErr {
		t.Fatalf("did not expect an error, got %q", content)
	}
	var out execResult
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		t.Fatalf("expected valid JSON output, got %q: %v", content, err)
	}
	if out.Output != `{"ok":true}` {
		t.Errorf("unexpected output field: %q", out.Output)
	}
}

func TestExecSurfacesRunnerError(t *testing.T) {
	tool := newTestTool(t, runResult{err: "boom", exitCode: 1})
	content, isErr := tool.Exec(context.Background(), "code_execute", `{"code":"raise Exception()"}`)
	if !isErr {
		t.Fatalf("expected isError when the runner reports a failure, got %q", content)
	}
	if !strings.Contains(content, "boom") {
		t.Errorf("expected the runner's error text in the output, got %q", content)
	}
}

func TestExecCapacityLimit(t *testing.T) {
	tool := newTestTool(t, runResult{})
	tool.sem <- struct{}{} // occupy the only slot

	content, isErr := tool.Exec(context.Background(), "code_execute", `{"code":"1"}`)
	if !isErr {
		t.Fatalf("expected a capacity error, got %q", content)
	}
	if !strings.Contains(content, "capacity") {
		t.Errorf("expected a capacity message, got %q", content)
	}
}

func TestLimitedWriterTruncates(t *testing.T) {
	var w limitedWriter
	w.limit = 5
	w.Write([]byte("hello world"))
	if w.String() != "hello" {
		t.Errorf("expected truncation at the limit, got %q", w.String())
	}
}

func TestDetectMIME(t *testing.T) {
	if got := detectMIME("chart.png", nil); got != "image/png" {
		t.Errorf("expected image/png, got %q", got)
	}
	if got := detectMIME("data.csv", nil); got != "text/csv" {
		t.Errorf("expected text/csv, got %q", got)
	}
}

func TestWriteAndCollectOutputFilesRoundtrip(t *testing.T) {
	dir := t.TempDir()
	files := []inputFile{{Name: "in.txt", Data: "aGVsbG8="}} // "hello"
	if err := writeInputFiles(dir, files); err != nil {
		t.Fatalf("writeInputFiles: %v", err)
	}
	out := collectOutputFiles(dir, []string{"in.txt"})
	if len(out) != 1 || out[0].Name != "in.txt" {
		t.Fatalf("expected in.txt to round-trip, got %+v", out)
	}
}

func TestCollectOutputFilesRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	out := collectOutputFiles(dir, []string{"../../etc/passwd"})
	if len(out) != 0 {
		t.Fatalf("expected path traversal to be rejected, got %+v", out)
	}
}
