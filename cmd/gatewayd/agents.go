package main

import (
	"sync"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/store"
)

// agentRegistry holds the configured agent personas in memory, loaded once
// at startup from a FileStore and re-read on SIGHUP-free restart only —
// there is no hot-reload endpoint yet, the same way the teacher's own
// config package expects a restart to pick up file edits.
type agentRegistry struct {
	mu   sync.RWMutex
	byID map[string]gatewaytypes.AgentConfig
}

func loadAgentRegistry(path string, globalLevel gatewaytypes.AccessLevel) (*agentRegistry, error) {
	fs := store.NewFileStore[gatewaytypes.AgentConfig](path)
	records, err := fs.Load()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		records = []gatewaytypes.AgentConfig{defaultAgent()}
		if err := fs.Save(records); err != nil {
			return nil, err
		}
	}

	reg := &agentRegistry{byID: make(map[string]gatewaytypes.AgentConfig, len(records))}
	for _, a := range records {
		a.CapLevel(globalLevel)
		reg.byID[a.ID] = a
	}
	return reg, nil
}

func defaultAgent() gatewaytypes.AgentConfig {
	return gatewaytypes.AgentConfig{
		ID:          "default",
		Name:        "Assistant",
		AccessLevel: gatewaytypes.LevelFull,
	}
}

// resolve satisfies chatpipeline.AgentResolver.
func (r *agentRegistry) resolve(agentID string) (gatewaytypes.AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[agentID]
	return a, ok
}

// level satisfies httpserver.AgentLevelResolver.
func (r *agentRegistry) level(agentID string) (gatewaytypes.AccessLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[agentID]
	if !ok {
		return gatewaytypes.LevelOff, false
	}
	return a.AccessLevel, true
}
