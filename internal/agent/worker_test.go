package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/config"
	"hivemind/internal/registry"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

func testSetup(t *testing.T) (*registry.Registry, *store.Local) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(st)
	require.NoError(t, err)
	return reg, st
}

func fastConfig() config.AgentsConfig {
	return config.AgentsConfig{
		HeartbeatIntervalSeconds: 1,
		PollIntervalSeconds:      1,
	}
}

func echoExecutor() *FuncExecutor {
	return &FuncExecutor{
		Type: types.AgentExecutor,
		Caps: []string{"go"},
		Fn: func(_ context.Context, task *types.Task, report func(float64)) (*Result, error) {
			report(50)
			return &Result{
				Output:     map[string]any{"echo": task.Title},
				Confidence: 0.9,
			}, nil
		},
	}
}

func TestWorkerClaimsAndCompletes(t *testing.T) {
	reg, st := testSetup(t)

	task := &types.Task{Title: "say hello"}
	require.NoError(t, st.CreateTask(task))

	w := NewWorker(echoExecutor(), reg, st, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := st.GetTask(task.ID)
		return err == nil && got.Status == types.TaskCompleted
	}, 5*time.Second, 20*time.Millisecond)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "say hello", got.Result["echo"])
	assert.Equal(t, w.ID, got.AssignedAgent)

	cancel()
	require.NoError(t, <-done)

	info, err := reg.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentShutdown, info.Status)
}

func TestWorkerReportsFailure(t *testing.T) {
	reg, st := testSetup(t)

	task := &types.Task{Title: "doomed"}
	require.NoError(t, st.CreateTask(task))

	exec := &FuncExecutor{
		Type: types.AgentExecutor,
		Fn: func(_ context.Context, _ *types.Task, _ func(float64)) (*Result, error) {
			return nil, errors.New("tool crashed")
		},
	}
	w := NewWorker(exec, reg, st, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := st.GetTask(task.ID)
		return err == nil && got.Status == types.TaskFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "tool crashed")

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerHealth(t *testing.T) {
	reg, st := testSetup(t)
	w := NewWorker(echoExecutor(), reg, st, fastConfig())

	// Not running yet.
	assert.False(t, w.Healthy())

	w.setRunning(true)
	assert.True(t, w.Healthy(), "fresh running worker is healthy")

	// 3 failures out of 10 pushes the error rate past 0.2.
	for i := 0; i < 7; i++ {
		w.recordOutcome(0.9, time.Millisecond, true)
	}
	for i := 0; i < 3; i++ {
		w.recordOutcome(0, time.Millisecond, false)
	}
	assert.False(t, w.Healthy())

	m := w.Metrics()
	assert.Equal(t, int64(10), m.Decisions)
	assert.InDelta(t, 0.3, m.ErrorRate, 1e-9)
	assert.InDelta(t, 0.9, m.AvgConfidence, 1e-9)
}

func TestWorkerHealthLowConfidence(t *testing.T) {
	reg, st := testSetup(t)
	w := NewWorker(echoExecutor(), reg, st, fastConfig())
	w.setRunning(true)

	for i := 0; i < 10; i++ {
		w.recordOutcome(0.3, time.Millisecond, true)
	}
	assert.False(t, w.Healthy(), "average confidence below 0.5 is unhealthy")
}

func TestConfidenceRingBounded(t *testing.T) {
	reg, st := testSetup(t)
	w := NewWorker(echoExecutor(), reg, st, fastConfig())

	for i := 0; i < confidenceWindow+50; i++ {
		w.recordOutcome(0.8, time.Millisecond, true)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.confidences, confidenceWindow)
}

func TestGradeConfidence(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	assert.InDelta(t, 0.9, gradeConfidence(string(long)), 1e-9)
	assert.Less(t, gradeConfidence("short"), 0.9)
	assert.Less(t, gradeConfidence(string(long)+" I'm not sure about this"), 0.9)
}
