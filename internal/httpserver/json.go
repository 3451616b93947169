package httpserver

import (
	"encoding/json"
	"net/http"
)

// writeJSON marshals v and writes it with the given status, matching
// cmd/sandbox/handler.go's writeJSON helper.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeErrorMessage writes {"error": msg} at status, the plain-string
// counterpart to writeError (which maps a gatewaytypes error kind).
func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
