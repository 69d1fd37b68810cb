// Package router owns the agent registry (the sole process-wide mutable
// state) and request resolution: tenant derivation, endpoint
// classification, and the hierarchy fabric that lets agents reach peers by
// OwnerKey.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/internal/fleet"
)

// Registry maps OwnerKeys to live agents, guaranteeing at most one agent
// per key. Entries are created lazily on first request and removed when the
// agent terminates.
type Registry struct {
	dataDir string
	deps    agent.Deps

	mu     sync.Mutex
	agents map[string]*agent.Agent
}

// NewRegistry builds the registry. The registry itself serves as the Peers
// binding for every agent it creates.
func NewRegistry(dataDir string, deps agent.Deps) *Registry {
	r := &Registry{
		dataDir: dataDir,
		agents:  make(map[string]*agent.Agent),
	}
	deps.Peers = r
	r.deps = deps
	return r
}

// Get returns the live agent for a key, creating one when absent or when
// the previous instance has terminated.
func (r *Registry) Get(key fleet.OwnerKey) *agent.Agent {
	id := key.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[id]; ok && a.Lifecycle() != agent.StateTerminated {
		return a
	}

	var a *agent.Agent
	a = agent.New(key, r.dataDir, r.deps, func() { r.remove(id, a) })
	r.agents[id] = a
	slog.Debug("registry.agent_spawned", "owner", key.Display())
	return a
}

// remove drops an entry, but only if it still points at the terminated
// instance (a replacement may already be live).
func (r *Registry) remove(id string, a *agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.agents[id]; ok && current == a {
		delete(r.agents, id)
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// Each calls fn for every live agent. The registry lock is not held during
// the calls.
func (r *Registry) Each(fn func(*agent.Agent)) {
	r.mu.Lock()
	agents := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.Unlock()

	for _, a := range agents {
		fn(a)
	}
}

// Shutdown drains every live agent. Used on graceful process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	agents := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.Unlock()

	for _, a := range agents {
		if err := a.Shutdown(ctx); err != nil {
			slog.Warn("registry.shutdown_agent_failed", "owner", a.Key().Display(), "error", err)
		}
	}
	slog.Info("registry.drained", "agents", len(agents))
}

// SendMessage delivers a message to the agent owning key.
func (r *Registry) SendMessage(ctx context.Context, key fleet.OwnerKey, from, content, msgType string) error {
	return r.Get(key).InboundMessage(ctx, from, content, msgType)
}

// DeleteSubtree cascades deletion into the agent owning key.
func (r *Registry) DeleteSubtree(ctx context.Context, key fleet.OwnerKey) error {
	return r.Get(key).DeleteSubtree(ctx)
}

// PropagateStock applies a stock update at the agent owning key. That
// agent's own threshold logic and upward propagation still run.
func (r *Registry) PropagateStock(ctx context.Context, key fleet.OwnerKey, update agent.StockUpdate) error {
	_, err := r.Get(key).ApplyStock(ctx, update)
	return err
}

var _ agent.Peers = (*Registry)(nil)
