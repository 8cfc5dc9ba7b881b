// Package registry tracks live agents and enforces the health policy:
// stale heartbeats take agents offline and release their tasks, stuck tasks
// are failed, and retryable failures are requeued.
package registry

import (
	"fmt"
	"sync"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Registry is the in-memory agent directory, mirrored to the store so
// state survives restarts.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.AgentInfo
	store  store.AgentStore
}

// New builds a registry, rehydrating any prior registrations from the store.
func New(st store.AgentStore) (*Registry, error) {
	r := &Registry{
		agents: make(map[string]*types.AgentInfo),
		store:  st,
	}
	prior, err := st.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	for _, a := range prior {
		// Agents from a previous run cannot be assumed alive.
		a.Status = types.AgentOffline
		r.agents[a.ID] = a
	}
	if len(prior) > 0 {
		logging.Registry("rehydrated %d prior agent registrations", len(prior))
	}
	return r, nil
}

// Register adds or replaces an agent registration and marks it idle.
func (r *Registry) Register(a *types.AgentInfo) error {
	if a.ID == "" {
		return fmt.Errorf("agent id required")
	}
	if a.Type == "" {
		return fmt.Errorf("agent type required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	a.Status = types.AgentIdle
	a.LastHeartbeat = now
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = now
	}
	if prior, ok := r.agents[a.ID]; ok {
		a.RestartCount = prior.RestartCount
	}
	r.agents[a.ID] = a

	if err := r.store.UpsertAgent(a); err != nil {
		return fmt.Errorf("failed to persist registration: %w", err)
	}
	logging.Registry("agent registered: %s (%s) caps=%v", a.ID, a.Type, a.Capabilities)
	return nil
}

// Deregister removes an agent.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.agents, id)
	if err := r.store.DeleteAgent(id); err != nil {
		return err
	}
	logging.Registry("agent deregistered: %s", id)
	return nil
}

// Heartbeat refreshes an agent's liveness. A heartbeat from an offline agent
// brings it back to idle.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	a.LastHeartbeat = now
	if a.Status == types.AgentOffline {
		a.Status = types.AgentIdle
		logging.Registry("agent %s back online", id)
	}
	return r.store.TouchHeartbeat(id, now)
}

// UpdateStatus sets an agent's status and current task.
func (r *Registry) UpdateStatus(id string, status types.AgentStatus, currentTaskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = status
	a.CurrentTaskID = currentTaskID
	return r.store.UpdateAgentStatus(id, status, currentTaskID)
}

// UpdateMetrics records a worker's rolling metrics snapshot.
func (r *Registry) UpdateMetrics(id string, m types.AgentMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Metrics = m
	return r.store.UpdateAgentMetrics(id, m)
}

// Get returns a copy of one registration.
func (r *Registry) Get(id string) (*types.AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// List returns copies of all registrations.
func (r *Registry) List() []*types.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// FindByCapabilities returns non-offline agents whose capability set covers
// all required capabilities.
func (r *Registry) FindByCapabilities(required []string) []*types.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.AgentInfo
	for _, a := range r.agents {
		if a.Status == types.AgentOffline || a.Status == types.AgentShutdown {
			continue
		}
		if a.HasCapabilities(required) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// FindIdleByType returns idle agents of the given type.
func (r *Registry) FindIdleByType(agentType types.AgentType) []*types.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.AgentInfo
	for _, a := range r.agents {
		if a.Type == agentType && a.Status == types.AgentIdle {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// markOffline transitions an agent to offline without removing it.
func (r *Registry) markOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.Status = types.AgentOffline
	a.CurrentTaskID = ""
	if err := r.store.UpdateAgentStatus(id, types.AgentOffline, ""); err != nil {
		logging.Get(logging.CategoryRegistry).Warn("persist offline %s: %v", id, err)
	}
}

// bumpRestart increments the restart counter, returning the new count.
func (r *Registry) bumpRestart(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return 0
	}
	a.RestartCount++
	if _, err := r.store.IncrementRestart(id); err != nil {
		logging.Get(logging.CategoryRegistry).Warn("persist restart %s: %v", id, err)
	}
	return a.RestartCount
}
