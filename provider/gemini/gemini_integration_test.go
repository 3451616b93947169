package gemini

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryInfo(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"12s"}]}}`
	d := parseRetryInfo(body)
	if d != 12*time.Second {
		t.Fatalf("expected 12s retry delay, got %v", d)
	}
}

func TestParseRetryInfoMissing(t *testing.T) {
	if d := parseRetryInfo(`{"error":{}}`); d != 0 {
		t.Fatalf("expected 0 when no RetryInfo detail present, got %v", d)
	}
}

func TestHTTPErrPrefersRetryAfterHeader(t *testing.T) {
	resp := &http.Response{
		StatusCode: 429,
		Header:     http.Header{"Retry-After": []string{time.Now().Add(5 * time.Minute).UTC().Format(http.TimeFormat)}},
	}
	err := httpErr(resp, `{"error":{}}`)
	if err.Status != 429 {
		t.Fatalf("expected status 429, got %d", err.Status)
	}
	if err.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", err.RetryAfter)
	}
}

func TestMapRole(t *testing.T) {
	if mapRole("assistant") != "model" {
		t.Error("expected assistant to map to model")
	}
	if mapRole("user") != "user" {
		t.Error("expected user to remain user")
	}
}
