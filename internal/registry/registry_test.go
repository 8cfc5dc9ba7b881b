package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/config"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Local) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r, err := New(st)
	require.NoError(t, err)
	return r, st
}

func testAgent(id string, caps ...string) *types.AgentInfo {
	return &types.AgentInfo{
		ID:           id,
		Type:         types.AgentExecutor,
		Capabilities: caps,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Register(testAgent("exec-1", "go", "sql")))
	require.NoError(t, r.Register(testAgent("exec-2", "go")))

	got, err := r.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, got.Status)

	matches := r.FindByCapabilities([]string{"go", "sql"})
	require.Len(t, matches, 1)
	assert.Equal(t, "exec-1", matches[0].ID)

	idle := r.FindIdleByType(types.AgentExecutor)
	assert.Len(t, idle, 2)

	_, err = r.Get("ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Error(t, r.Register(&types.AgentInfo{Type: types.AgentExecutor}))
	assert.Error(t, r.Register(&types.AgentInfo{ID: "no-type"}))
}

func TestHeartbeatRevivesOffline(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register(testAgent("exec-1")))

	r.markOffline("exec-1")
	got, err := r.Get("exec-1")
	require.NoError(t, err)
	require.Equal(t, types.AgentOffline, got.Status)

	require.NoError(t, r.Heartbeat("exec-1"))
	got, err = r.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, got.Status)
}

func TestRehydrationMarksOffline(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r1, err := New(st)
	require.NoError(t, err)
	require.NoError(t, r1.Register(testAgent("exec-1")))

	// A fresh registry over the same store cannot assume liveness.
	r2, err := New(st)
	require.NoError(t, err)
	got, err := r2.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentOffline, got.Status)
}

func healthConfig() config.AgentsConfig {
	return config.AgentsConfig{
		StaleThresholdSeconds:      1,
		StuckThresholdSeconds:      1,
		HealthCheckIntervalSeconds: 1,
		MaxRetries:                 3,
		MaxRespawns:                3,
		RespawnBackoffSeconds:      1,
	}
}

func TestSweepStaleAgentReleasesTasks(t *testing.T) {
	r, st := newTestRegistry(t)

	agent := testAgent("exec-1", "go")
	require.NoError(t, r.Register(agent))

	task := &types.Task{Title: "held"}
	require.NoError(t, st.CreateTask(task))
	ok, err := st.ClaimTask("exec-1", task.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	// Age the heartbeat past the stale threshold.
	require.NoError(t, st.TouchHeartbeat("exec-1", time.Now().Add(-time.Minute)))
	r.mu.Lock()
	r.agents["exec-1"].LastHeartbeat = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	respawned := make(chan string, 1)
	spawner := func(_ context.Context, info *types.AgentInfo) error {
		respawned <- info.ID
		return nil
	}
	h := NewHealthMonitor(r, st, spawner, healthConfig())
	h.Sweep(context.Background())

	got, err := r.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentOffline, got.Status)

	released, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, released.Status)
	assert.Contains(t, released.LastError, "offline")

	select {
	case id := <-respawned:
		assert.Equal(t, "exec-1", id)
	default:
		t.Fatal("expected a respawn attempt")
	}
}

func TestRespawnBudgetExhausted(t *testing.T) {
	r, st := newTestRegistry(t)

	agent := testAgent("exec-1")
	agent.RestartCount = 3
	require.NoError(t, r.Register(agent))
	r.markOffline("exec-1")

	calls := 0
	spawner := func(_ context.Context, _ *types.AgentInfo) error {
		calls++
		return nil
	}
	h := NewHealthMonitor(r, st, spawner, healthConfig())
	h.Sweep(context.Background())
	h.Sweep(context.Background())

	assert.Zero(t, calls, "respawn budget of 3 must not be exceeded")
}

func TestSweepRequeuesRetryableTasks(t *testing.T) {
	r, st := newTestRegistry(t)

	task := &types.Task{Title: "flaky"}
	require.NoError(t, st.CreateTask(task))
	ok, err := st.ClaimTask("exec-1", task.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.FailTask("exec-1", task.ID, "boom"))

	h := NewHealthMonitor(r, st, nil, healthConfig())
	h.Sweep(context.Background())

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestSweepFailsStuckTasks(t *testing.T) {
	r, st := newTestRegistry(t)

	task := &types.Task{Title: "stuck"}
	require.NoError(t, st.CreateTask(task))
	ok, err := st.ClaimTask("exec-1", task.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	cfg := healthConfig()
	cfg.MaxRetries = 1
	h := NewHealthMonitor(r, st, nil, cfg)

	time.Sleep(1100 * time.Millisecond)
	h.sweepStuckTasks()

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.Status)
}
