// Package secrets holds the gateway's master token and provider API keys in
// a read-copy-update snapshot, loaded once at startup. Generalizes the
// teacher's "load once into a struct, never re-read from disk mid-request"
// idiom (internal/config.Load is itself called exactly once at startup in
// the teacher's cmd/ entrypoints) into an atomically swappable snapshot so a
// future admin-triggered rotation never races an in-flight request.
package secrets

import (
	"sync/atomic"

	"github.com/torbolabs/torbobase/internal/config"
)

// Snapshot is one immutable view of the secret material in use.
type Snapshot struct {
	MasterToken     string
	PairingCode     string
	AnthropicAPIKey string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	XAIAPIKey       string
	LocalBaseURL    string
}

// Store provides lock-free reads of the current snapshot and a single
// compare-and-swap style replace for rotation.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New builds a Store from loaded configuration.
func New(cfg config.Config) *Store {
	s := &Store{}
	s.Replace(Snapshot{
		MasterToken:     cfg.Server.MasterToken,
		PairingCode:     cfg.Server.PairingCode,
		AnthropicAPIKey: cfg.Providers.AnthropicAPIKey,
		GeminiAPIKey:    cfg.Providers.GeminiAPIKey,
		OpenAIAPIKey:    cfg.Providers.OpenAIAPIKey,
		XAIAPIKey:       cfg.Providers.XAIAPIKey,
		LocalBaseURL:    cfg.Providers.LocalBaseURL,
	})
	return s
}

// Current returns the active snapshot. Safe for concurrent use without
// locking; callers must not mutate the returned value.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Replace atomically swaps in a new snapshot.
func (s *Store) Replace(snap Snapshot) {
	s.current.Store(&snap)
}

// APIKeyFor returns the configured key for a provider name, or "" if none is
// configured.
func (snap Snapshot) APIKeyFor(provider string) string {
	switch provider {
	case "anthropic":
		return snap.AnthropicAPIKey
	case "gemini":
		return snap.GeminiAPIKey
	case "openai", "xai":
		if provider == "xai" {
			return snap.XAIAPIKey
		}
		return snap.OpenAIAPIKey
	default:
		return ""
	}
}
