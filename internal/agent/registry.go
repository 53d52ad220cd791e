// Package agent manages the roster of external reasoning agents and spawns
// worker processes against them.
//
// Workers communicate through a file side-channel: each worker appends its
// answer to an output file and touches a marker file when done. The
// orchestration layer polls that channel and never reaches into the agent's
// internal state.
package agent

import (
	"github.com/conclavehq/conclave/internal/config"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
)

// Registry holds the configured agent roster. Registration order is
// preserved: it is the deterministic tie-break order for consensus.
type Registry struct {
	byName map[string]config.AgentConfig
	order  []string
}

// NewRegistry creates a Registry from the configured roster.
func NewRegistry(agents []config.AgentConfig) *Registry {
	r := &Registry{
		byName: make(map[string]config.AgentConfig, len(agents)),
		order:  make([]string, 0, len(agents)),
	}
	for _, a := range agents {
		if _, exists := r.byName[a.Name]; exists {
			continue // config validation rejects duplicates; first wins here
		}
		r.byName[a.Name] = a
		r.order = append(r.order, a.Name)
	}
	return r
}

// Get returns the configuration for a named agent.
func (r *Registry) Get(name string) (config.AgentConfig, error) {
	cfg, ok := r.byName[name]
	if !ok {
		return config.AgentConfig{}, conclaveerrors.NewWorkerError("agent not in roster", conclaveerrors.ErrAgentUnknown).
			WithAgent(name)
	}
	return cfg, nil
}

// Names returns the agent names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the roster size.
func (r *Registry) Len() int {
	return len(r.order)
}
