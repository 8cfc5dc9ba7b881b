package registry

import (
	"context"
	"time"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Spawner restarts a dead agent. The orchestrator supplies one; a nil
// spawner disables respawn.
type Spawner func(ctx context.Context, info *types.AgentInfo) error

// HealthMonitor periodically sweeps for stale agents, stuck tasks, and
// retryable failures.
type HealthMonitor struct {
	registry *Registry
	tasks    store.TaskStore
	spawner  Spawner
	cfg      config.AgentsConfig

	// respawn backoff state, keyed by agent id
	nextRespawn map[string]time.Time
}

// NewHealthMonitor wires a monitor over the registry and task store.
func NewHealthMonitor(r *Registry, tasks store.TaskStore, spawner Spawner, cfg config.AgentsConfig) *HealthMonitor {
	return &HealthMonitor{
		registry:    r,
		tasks:       tasks,
		spawner:     spawner,
		cfg:         cfg,
		nextRespawn: make(map[string]time.Time),
	}
}

// Run sweeps on the configured interval until ctx is done.
func (h *HealthMonitor) Run(ctx context.Context) {
	interval := time.Duration(h.cfg.HealthCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Registry("health monitor started (interval=%s)", interval)
	for {
		select {
		case <-ctx.Done():
			logging.Registry("health monitor stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep runs one pass of all three checks. Exported so tests and the
// orchestrator can force a pass without waiting for the ticker.
func (h *HealthMonitor) Sweep(ctx context.Context) {
	h.sweepStaleAgents(ctx)
	h.sweepStuckTasks()
	h.sweepRetryable()
}

// sweepStaleAgents takes agents with expired heartbeats offline, fails
// their in-flight tasks so they can be reassigned, and respawns the agent
// with exponential backoff up to the respawn cap.
func (h *HealthMonitor) sweepStaleAgents(ctx context.Context) {
	stale := time.Duration(h.cfg.StaleThresholdSeconds) * time.Second
	if stale <= 0 {
		stale = 60 * time.Second
	}
	cutoff := time.Now().UTC().Add(-stale)

	for _, a := range h.registry.List() {
		if a.Status == types.AgentOffline || a.Status == types.AgentShutdown {
			h.maybeRespawn(ctx, a)
			continue
		}
		if a.LastHeartbeat.After(cutoff) {
			continue
		}

		logging.Registry("agent %s heartbeat stale (last=%s), marking offline",
			a.ID, a.LastHeartbeat.Format(time.RFC3339))
		h.registry.markOffline(a.ID)

		ids, err := h.tasks.FailTasksOfAgent(a.ID, "agent "+a.ID+" went offline")
		if err != nil {
			logging.Get(logging.CategoryRegistry).Error("release tasks of %s: %v", a.ID, err)
		} else if len(ids) > 0 {
			logging.Registry("released %d tasks held by offline agent %s", len(ids), a.ID)
		}

		h.maybeRespawn(ctx, a)
	}
}

// maybeRespawn restarts an offline agent if the respawn budget and backoff
// window allow it.
func (h *HealthMonitor) maybeRespawn(ctx context.Context, a *types.AgentInfo) {
	if h.spawner == nil {
		return
	}
	maxRespawns := h.cfg.MaxRespawns
	if maxRespawns <= 0 {
		maxRespawns = 3
	}
	if a.RestartCount >= maxRespawns {
		logging.RegistryDebug("agent %s exhausted respawn budget (%d)", a.ID, a.RestartCount)
		return
	}
	if next, ok := h.nextRespawn[a.ID]; ok && time.Now().Before(next) {
		return
	}

	count := h.registry.bumpRestart(a.ID)

	// Backoff doubles per restart: base, 2x, 4x...
	base := time.Duration(h.cfg.RespawnBackoffSeconds) * time.Second
	if base <= 0 {
		base = 10 * time.Second
	}
	backoff := base << uint(count-1)
	h.nextRespawn[a.ID] = time.Now().Add(backoff)

	logging.Registry("respawning agent %s (attempt %d, next backoff %s)", a.ID, count, backoff)
	if err := h.spawner(ctx, a); err != nil {
		logging.Get(logging.CategoryRegistry).Error("respawn %s: %v", a.ID, err)
	}
}

// sweepStuckTasks fails in-progress tasks that have been claimed too long
// without finishing, so retry can pick them up.
func (h *HealthMonitor) sweepStuckTasks() {
	threshold := time.Duration(h.cfg.StuckThresholdSeconds) * time.Second
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}

	stuck, err := h.tasks.DetectStuck(threshold)
	if err != nil {
		logging.Get(logging.CategoryRegistry).Error("detect stuck: %v", err)
		return
	}
	for _, t := range stuck {
		logging.Registry("task %s stuck (claimed %s, progress %.0f%%), failing",
			t.ID, t.ClaimedAt.Format(time.RFC3339), t.Progress)
		if err := h.tasks.ForceFail(t.ID, "task stuck past deadline"); err != nil {
			logging.Get(logging.CategoryRegistry).Error("force-fail %s: %v", t.ID, err)
		}
	}
}

// sweepRetryable requeues failed tasks that still have retry budget.
func (h *HealthMonitor) sweepRetryable() {
	maxRetries := h.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	retryable, err := h.tasks.DetectRetryable(maxRetries)
	if err != nil {
		logging.Get(logging.CategoryRegistry).Error("detect retryable: %v", err)
		return
	}
	for _, t := range retryable {
		if err := h.tasks.ResetForRetry(t.ID); err != nil {
			logging.Get(logging.CategoryRegistry).Error("requeue %s: %v", t.ID, err)
			continue
		}
		logging.Registry("task %s requeued (retry %d/%d)", t.ID, t.RetryCount+1, maxRetries)
	}
}
