package gemini

import (
	"encoding/json"
	"testing"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// testGemini returns a Gemini instance with default config for testing buildBody.
func testGemini() *Gemini {
	return New("test-key", "test-model")
}

func TestBuildBodySystemMessages(t *testing.T) {
	g := testGemini()
	messages := []gatewaytypes.ChatMessage{
		gatewaytypes.SystemMessage("You are a helpful assistant."),
		gatewaytypes.SystemMessage("Be concise."),
		gatewaytypes.UserMessage("Hello"),
	}

	body, err := g.buildBody(messages, nil, nil)
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	si, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("expected systemInstruction in body")
	}
	parts, ok := si["parts"].([]map[string]any)
	if !ok || len(parts) != 1 {
		t.Fatal("expected exactly 1 systemInstruction part")
	}
	text, ok := parts[0]["text"].(string)
	if !ok {
		t.Fatal("expected text field in systemInstruction part")
	}
	if text != "You are a helpful assistant.\n\nBe concise." {
		t.Errorf("unexpected system text: %q", text)
	}

	contents, ok := body["contents"].([]map[string]any)
	if !ok {
		t.Fatal("expected contents array in body")
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content entry (user only), got %d", len(contents))
	}
	if contents[0]["role"] != "user" {
		t.Errorf("expected role 'user', got %q", contents[0]["role"])
	}
}

func TestBuildBodyAssistantMapsToModel(t *testing.T) {
	g := testGemini()
	messages := []gatewaytypes.ChatMessage{
		gatewaytypes.UserMessage("Hi"),
		{Role: gatewaytypes.RoleAssistant, Content: gatewaytypes.TextContent("Hello!")},
		gatewaytypes.UserMessage("How are you?"),
	}

	body, err := g.buildBody(messages, nil, nil)
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	contents := body["contents"].([]map[string]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 content entries, got %d", len(contents))
	}
	if contents[1]["role"] != "model" {
		t.Errorf("expected assistant role mapped to 'model', got %q", contents[1]["role"])
	}
}

func TestBuildBodyToolCallRoundtrip(t *testing.T) {
	g := testGemini()
	messages := []gatewaytypes.ChatMessage{
		gatewaytypes.UserMessage("what's the weather in ny?"),
		{
			Role: gatewaytypes.RoleAssistant,
			ToolCalls: []gatewaytypes.ToolCall{
				{ID: "weather", Type: "function", Function: gatewaytypes.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"ny"}`}},
			},
		},
		gatewaytypes.ToolResultMessage("weather", `{"tempF":61}`),
	}

	body, err := g.buildBody(messages, nil, nil)
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	contents := body["contents"].([]map[string]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 content entries, got %d", len(contents))
	}
	if contents[1]["role"] != "model" {
		t.Fatalf("expected tool-call message mapped to model role, got %v", contents[1]["role"])
	}
	if contents[2]["role"] != "user" {
		t.Fatalf("expected tool result mapped to user role with functionResponse, got %v", contents[2]["role"])
	}
}

func TestBuildBodyToolDeclarations(t *testing.T) {
	g := testGemini()
	tools := []gatewaytypes.ToolDefinition{
		{Name: "search", Description: "search the web", Parameters: json.RawMessage(`{"type":"object"}`)},
	}

	body, err := g.buildBody(nil, tools, nil)
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	toolEntries, ok := body["tools"].([]map[string]any)
	if !ok || len(toolEntries) != 1 {
		t.Fatalf("expected 1 tool entry, got %+v", body["tools"])
	}
	decls, ok := toolEntries[0]["functionDeclarations"].([]map[string]any)
	if !ok || len(decls) != 1 || decls[0]["name"] != "search" {
		t.Fatalf("unexpected function declarations: %+v", toolEntries[0])
	}
}

func TestBuildBodyDisablesFunctionCallingWithoutTools(t *testing.T) {
	g := testGemini()
	body, err := g.buildBody([]gatewaytypes.ChatMessage{gatewaytypes.UserMessage("hi")}, nil, nil)
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	toolConfig, ok := body["toolConfig"].(map[string]any)
	if !ok {
		t.Fatal("expected toolConfig when no tools provided")
	}
	fc := toolConfig["functionCallingConfig"].(map[string]any)
	if fc["mode"] != "NONE" {
		t.Errorf("expected mode NONE, got %v", fc["mode"])
	}
}

func TestBuildBodyStructuredOutputSchema(t *testing.T) {
	g := testGemini()
	schema := &gatewaytypes.ResponseSchema{Name: "answer", Schema: json.RawMessage(`{"type":"object"}`)}

	body, err := g.buildBody([]gatewaytypes.ChatMessage{gatewaytypes.UserMessage("hi")}, nil, schema)
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	genConfig := body["generationConfig"].(map[string]any)
	if genConfig["responseMimeType"] != "application/json" {
		t.Errorf("expected responseMimeType application/json, got %v", genConfig["responseMimeType"])
	}
	if genConfig["responseSchema"] == nil {
		t.Error("expected responseSchema to be set")
	}
}

func TestIsCompleteJSON(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{`{"a":1}`, true},
		{`{"a":{"b":1}}`, true},
		{`{"a":"b}"}`, true},
		{`{"a":`, false},
		{`[1,2,3]`, true},
		{`[1,2`, false},
	}
	for _, c := range cases {
		if got := isCompleteJSON(c.in); got != c.want {
			t.Errorf("isCompleteJSON(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestExtractTextFromParsedSkipsThoughts(t *testing.T) {
	raw := []byte(`{"candidates":[{"content":{"parts":[
		{"text":"thinking...","thought":true},
		{"text":"final answer"}
	]}}]}`)
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := extractTextFromParsed(parsed); got != "final answer" {
		t.Errorf("expected thought parts skipped, got %q", got)
	}
}

func TestExtractToolCallsFromParsed(t *testing.T) {
	raw := []byte(`{"candidates":[{"content":{"parts":[
		{"functionCall":{"name":"get_weather","args":{"city":"ny"}}}
	]}}]}`)
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	calls := extractToolCallsFromParsed(parsed)
	if len(calls) != 1 || calls[0].Function.Name != "get_weather" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
}
