// Package fetch implements the outbound http_fetch tool: download a URL,
// extract its readable text, and hand the result back to the model. Ported
// from tools/http/http.go's Tool, with an SSRF guard added in front of the
// dial step since the teacher's own version has none.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

const (
	maxBodyBytes  = 1 << 20 // 1 MiB, same cap as the teacher
	maxResultRune = 8000
	fetchTimeout  = 15 * time.Second
)

// Tool fetches URLs and extracts readable content, guarded against SSRF.
type Tool struct {
	client *http.Client
}

// New creates a Tool whose transport refuses to dial any blocklisted
// address, checked at connect time (not just against the pre-resolution
// hostname) so DNS-rebinding can't bypass the guard.
func New() *Tool {
	dialer := &net.Dialer{Timeout: fetchTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			if err := checkHost(host); err != nil {
				return nil, err
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if ip, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				if err := checkIP(ip.IP); err != nil {
					conn.Close()
					return nil, err
				}
			}
			_ = port
			return conn, nil
		},
	}
	return &Tool{client: &http.Client{
		Timeout:   fetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return checkHost(req.URL.Hostname())
		},
	}}
}

// Definition returns the tool's OpenAI-shaped function definition, executed
// server-side (the gateway performs the fetch, not the caller).
func Definition() gatewaytypes.ToolDefinition {
	return gatewaytypes.ToolDefinition{
		Name:           "http_fetch",
		Description:    "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters:     json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
		ExecutableHere: true,
	}
}

// Exec implements toolloop.ExecFunc.
func (t *Tool) Exec(ctx context.Context, name string, args string) (string, bool) {
	if name != "http_fetch" {
		return fmt.Sprintf("error: unknown tool %q", name), true
	}
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "invalid args: " + err.Error(), true
	}
	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return err.Error(), true
	}
	if runeLen := len([]rune(content)); runeLen > maxResultRune {
		r := []rune(content)
		content = string(r[:maxResultRune]) + "\n... (truncated)"
	}
	return content, false
}

// Fetch downloads rawURL and extracts readable text, rejecting the request
// up front if the URL's scheme or hostname is disallowed.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if err := checkHost(parsed.Hostname()); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TorboBaseBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	if isMarkdown(parsed.Path, resp.Header.Get("Content-Type")) {
		return renderMarkdown(body), nil
	}

	html := string(body)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}
	return stripHTML(html), nil
}

// isMarkdown reports whether the fetched resource is itself markdown source
// (a raw .md file, a Content-Type of text/markdown) rather than an HTML
// page, so it can be rendered and flattened to text instead of run through
// the HTML-oriented readability/stripHTML path.
func isMarkdown(path, contentType string) bool {
	if strings.Contains(contentType, "markdown") {
		return true
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// renderMarkdown converts markdown source to HTML via goldmark, then
// flattens it with the same HTML-stripping pass used for ordinary pages so
// headings and lists still read as distinct lines for the model.
func renderMarkdown(source []byte) string {
	var buf strings.Builder
	if err := goldmark.Convert(source, &buf); err != nil {
		return string(source)
	}
	return stripHTML(buf.String())
}
