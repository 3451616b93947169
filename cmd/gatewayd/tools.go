package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/tools/fetch"
	"github.com/torbolabs/torbobase/internal/tools/sandbox"
)

// toolset composes every server-executable tool into the single
// ToolCatalog/ExecFunc pair chatpipeline.Deps needs, so adding a tool means
// touching this file and nowhere else in cmd/gatewayd.
type toolset struct {
	fetch   *fetch.Tool
	sandbox *sandbox.Tool
}

func newToolset(sandboxOpts sandbox.Options) *toolset {
	return &toolset{
		fetch:   fetch.New(),
		sandbox: sandbox.New(sandboxOpts),
	}
}

func (ts *toolset) close() { ts.sandbox.Close() }

// catalog implements chatpipeline.ToolCatalog. Tool visibility is gated by
// the caller's effective access level: http_fetch needs at least READ,
// code_execute needs at least EXECUTE.
func (ts *toolset) catalog(level gatewaytypes.AccessLevel) []gatewaytypes.ToolDefinition {
	var out []gatewaytypes.ToolDefinition
	if level >= gatewaytypes.LevelRead {
		out = append(out, fetch.Definition())
	}
	if level >= gatewaytypes.LevelExecute {
		out = append(out, sandbox.Definition())
	}
	return out
}

// exec implements toolloop.ExecFunc, dispatching by tool name.
func (ts *toolset) exec(ctx context.Context, name string, args string) (string, bool) {
	switch name {
	case "http_fetch":
		return ts.fetch.Exec(ctx, name, args)
	case "code_execute":
		return ts.sandbox.Exec(ctx, name, args)
	default:
		return "error: unknown tool " + name, true
	}
}

// handleFetch backs the standalone POST /v1/fetch route named in
// SPEC_FULL.md §6: the same SSRF-guarded readability extraction the tool
// loop uses, reachable directly for callers that want a fetch without
// driving a full chat turn.
func (ts *toolset) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	content, err := ts.fetch.Fetch(r.Context(), body.URL)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"content": content})
}
