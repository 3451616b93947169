package providerset

import "testing"

func TestNewDispatchesByProviderName(t *testing.T) {
	cases := []struct {
		provider string
		wantName string
	}{
		{"gemini", "gemini"},
		{"anthropic", "anthropic"},
		{"openai", "openai"},
		{"groq", "groq"},
	}
	for _, c := range cases {
		p, err := New(Config{Provider: c.provider, APIKey: "k", Model: "m"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.provider, err)
		}
		if p.Name() != c.wantName {
			t.Fatalf("%s: expected name %q, got %q", c.provider, c.wantName, p.Name())
		}
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "nonexistent"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestDefaultBaseURLKnownProviders(t *testing.T) {
	if defaultBaseURL("openai") == "" {
		t.Fatal("expected a default base URL for openai")
	}
	if defaultBaseURL("totally-unknown") != "" {
		t.Fatal("expected empty default base URL for unrecognized provider")
	}
}
