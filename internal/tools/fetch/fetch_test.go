package fetch

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestToolExecInvalidArgs(t *testing.T) {
	tool := New()
	content, isErr := tool.Exec(context.Background(), "http_fetch", `{not json`)
	if !isErr {
		t.Fatal("expected an error for malformed args")
	}
	if content == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestToolExecUnknownTool(t *testing.T) {
	tool := New()
	_, isErr := tool.Exec(context.Background(), "not_http_fetch", `{"url":"http://example.com"}`)
	if !isErr {
		t.Fatal("expected an error for an unrecognized tool name")
	}
}

func TestToolExecRejectsLoopback(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	content, isErr := tool.Exec(context.Background(), "http_fetch", string(args))
	if !isErr {
		t.Fatalf("expected the SSRF guard to reject a loopback URL, got content: %s", content)
	}
}

func TestCheckHostBlocksPrivateRanges(t *testing.T) {
	cases := []string{
		"127.0.0.1", "10.1.2.3", "172.16.0.5", "192.168.1.1",
		"169.254.1.1", "::1", "localhost", "metadata.google.internal",
	}
	for _, host := range cases {
		if err := checkHost(host); err == nil {
			t.Errorf("expected checkHost(%q) to reject", host)
		}
	}
}

func TestCheckHostAllowsPublicIP(t *testing.T) {
	if err := checkHost("93.184.216.34"); err != nil {
		t.Errorf("expected a public IP to pass, got %v", err)
	}
}

func TestStripHTMLRemovesScriptAndStyle(t *testing.T) {
	html := `<html><head><style>body{color:red}</style></head><body><script>alert(1)</script><p>Hello &amp; welcome</p></body></html>`
	got := stripHTML(html)
	if strings.Contains(got, "alert") || strings.Contains(got, "color:red") {
		t.Fatalf("script/style leaked into output: %q", got)
	}
	if !strings.Contains(got, "Hello & welcome") {
		t.Fatalf("expected decoded entity text, got %q", got)
	}
}

func TestIsMarkdown(t *testing.T) {
	if !isMarkdown("/README.md", "") {
		t.Error("expected .md path to be detected as markdown")
	}
	if !isMarkdown("/doc", "text/markdown; charset=utf-8") {
		t.Error("expected text/markdown content-type to be detected")
	}
	if isMarkdown("/index.html", "text/html") {
		t.Error("did not expect an HTML page to be detected as markdown")
	}
}

func TestRenderMarkdownFlattensHeadings(t *testing.T) {
	got := renderMarkdown([]byte("# Title\n\nSome *body* text.\n"))
	if !strings.Contains(got, "Title") || !strings.Contains(got, "Some") {
		t.Fatalf("expected rendered markdown to retain text, got %q", got)
	}
}
