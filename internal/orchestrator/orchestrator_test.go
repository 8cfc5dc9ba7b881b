package orchestrator

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/agent"
	"hivemind/internal/config"
	"hivemind/internal/executive"
	"hivemind/internal/planner"
	"hivemind/internal/registry"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

func newTestStore(t *testing.T) *store.Local {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fastIntervals(t *testing.T) {
	t.Helper()
	oldAssign, oldHealth, oldProgress := assignInterval, healthInterval, progressInterval
	assignInterval = 20 * time.Millisecond
	healthInterval = 50 * time.Millisecond
	progressInterval = 30 * time.Millisecond
	t.Cleanup(func() {
		assignInterval, healthInterval, progressInterval = oldAssign, oldHealth, oldProgress
	})
}

// instantExecutor completes any task immediately.
func instantExecutor(agentType types.AgentType) *agent.FuncExecutor {
	return &agent.FuncExecutor{
		Type: agentType,
		Fn: func(ctx context.Context, task *types.Task, report func(float64)) (*agent.Result, error) {
			report(100)
			return &agent.Result{
				Output:     map[string]any{"done": task.Title},
				Confidence: 0.9,
			}, nil
		},
	}
}

func TestRunDrivesParentToCompletion(t *testing.T) {
	fastIntervals(t)
	s := newTestStore(t)
	reg, err := registry.New(s)
	require.NoError(t, err)

	agentCfg := config.Default().Agents
	agentCfg.PollIntervalSeconds = 1
	factory := func(ctx context.Context, agentType types.AgentType) (string, error) {
		w := agent.NewWorker(instantExecutor(agentType), reg, s, agentCfg)
		go func() { _ = w.Run(ctx) }()
		return w.ID, nil
	}

	parent := &types.Task{Title: "add pagination endpoint", Priority: types.PriorityHigh}
	require.NoError(t, s.CreateTask(parent))

	o := New(planner.New(), s, reg, nil, factory, nil, config.Default().Orchestrator)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	synthesis, err := o.Run(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, synthesis.Completed, 4, "all four phases complete")
	assert.Empty(t, synthesis.Failed)
	assert.Contains(t, synthesis.Report, "4 completed")

	got, err := s.GetTask(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	for _, id := range synthesis.Completed {
		sub, err := s.GetTask(id)
		require.NoError(t, err)
		assert.Equal(t, parent.ID, sub.ParentID)
		assert.NotEmpty(t, sub.Result)
	}
}

type countingConsolidator struct {
	runs atomic.Int32
}

func (c *countingConsolidator) Run(ctx context.Context, project string) (*types.ConsolidationReport, error) {
	c.runs.Add(1)
	return &types.ConsolidationReport{Project: project}, nil
}

func TestScheduledConsolidationFiresDuringRun(t *testing.T) {
	fastIntervals(t)
	s := newTestStore(t)
	reg, err := registry.New(s)
	require.NoError(t, err)

	agentCfg := config.Default().Agents
	agentCfg.PollIntervalSeconds = 1
	// Workers stall long enough for the consolidation cadence to elapse.
	factory := func(ctx context.Context, agentType types.AgentType) (string, error) {
		slow := &agent.FuncExecutor{
			Type: agentType,
			Fn: func(ctx context.Context, task *types.Task, report func(float64)) (*agent.Result, error) {
				time.Sleep(150 * time.Millisecond)
				report(100)
				return &agent.Result{Output: map[string]any{"done": task.Title}, Confidence: 0.9}, nil
			},
		}
		w := agent.NewWorker(slow, reg, s, agentCfg)
		go func() { _ = w.Run(ctx) }()
		return w.ID, nil
	}

	parent := &types.Task{Title: "add pagination endpoint", Priority: types.PriorityHigh}
	require.NoError(t, s.CreateTask(parent))

	o := New(planner.New(), s, reg, nil, factory, nil, config.Default().Orchestrator)
	cc := &countingConsolidator{}
	o.SetConsolidator(cc, "proj", 40*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = o.Run(ctx, parent.ID)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, cc.runs.Load(), int32(1), "consolidation rides the run's cadence")
}

func TestRunRefusesClaimedParent(t *testing.T) {
	fastIntervals(t)
	s := newTestStore(t)
	reg, err := registry.New(s)
	require.NoError(t, err)

	parent := &types.Task{Title: "occupied work", Priority: types.PriorityMedium}
	require.NoError(t, s.CreateTask(parent))
	won, err := s.ClaimTask("someone-else", parent.ID, 0)
	require.NoError(t, err)
	require.True(t, won)

	o := New(planner.New(), s, reg, nil, nil, nil, config.Default().Orchestrator)
	_, err = o.Run(context.Background(), parent.ID)
	assert.ErrorContains(t, err, "already claimed")
}

func TestAgentTypeHeuristics(t *testing.T) {
	tests := []struct {
		title string
		tags  []string
		want  types.AgentType
	}{
		{"Research rate limiter options", nil, types.AgentResearch},
		{"Test the claim path", nil, types.AgentValidation},
		{"Review store migration", nil, types.AgentReview},
		{"Document the bus API", nil, types.AgentDocumentation},
		{"Analyze slow queries", nil, types.AgentAnalysis},
		{"Plan the rollout", nil, types.AgentPlanner},
		{"Debug flaky heartbeat", nil, types.AgentDebugging},
		{"Ship the feature", nil, types.AgentExecutor},
		{"anything", []string{"type:synthesis"}, types.AgentSynthesis},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, agentTypeFor(tt.title, tt.tags), tt.title)
	}
}

func TestOffloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	o := NewOffloader(s, 200000, 0.8)

	state := &types.OrchestrationState{
		OrchestratorID: "orchestrator-ab12",
		ParentTaskID:   "parent-1",
		SubtaskIDs:     []string{"s1", "s2", "s3"},
		ActiveWorkers:  []string{"executor-1"},
		Completed:      []string{"s1"},
		Failed:         []string{"s2"},
		Counters:       map[string]int{"subtasks": 3},
	}
	require.NoError(t, o.Checkpoint(state, "context budget exceeded"))

	restored, err := o.Restore("parent-1")
	require.NoError(t, err)
	if diff := cmp.Diff(state, restored); diff != "" {
		t.Fatalf("restored state mismatch (-want +got):\n%s", diff)
	}

	_, err = o.Restore("unknown-parent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOffloadThreshold(t *testing.T) {
	s := newTestStore(t)
	// Tiny budget: 100 tokens, trip at 80.
	o := NewOffloader(s, 100, 0.8)

	small := &types.OrchestrationState{OrchestratorID: "o1", ParentTaskID: "p"}
	assert.False(t, o.ShouldOffload(small))

	big := &types.OrchestrationState{OrchestratorID: "o1", ParentTaskID: "p"}
	for i := 0; i < 200; i++ {
		big.SubtaskIDs = append(big.SubtaskIDs, "subtask-with-a-long-identifier")
	}
	assert.True(t, o.ShouldOffload(big))
}

func TestProjectionKeepsIDsAndCounters(t *testing.T) {
	state := &types.OrchestrationState{
		OrchestratorID: "o1",
		ParentTaskID:   "p1",
		SubtaskIDs:     []string{"a", "b"},
		Completed:      []string{"a"},
		Blocked:        []string{"b"},
		Counters:       map[string]int{"subtasks": 2},
	}
	proj := Project(state)
	assert.Equal(t, []string{"a", "b"}, proj.SubtaskIDs)
	assert.Equal(t, 1, proj.Counters["completed"])
	assert.Equal(t, 1, proj.Counters["blocked"])
	assert.Equal(t, 2, proj.Counters["subtasks"])
}

func TestRecommendNextGoalPrefersUrgentNearDone(t *testing.T) {
	s := newTestStore(t)
	b := NewBridge(s, executive.NewStrategySelector(s))

	mkGoal := func(text string, priority int, deadlineDays int, progress float64) *types.Goal {
		g := &types.Goal{
			Project:  "proj",
			Text:     text,
			Type:     types.GoalPrimary,
			Priority: priority,
			Status:   types.GoalActive,
			Progress: progress,
		}
		if deadlineDays > 0 {
			d := time.Now().UTC().Add(time.Duration(deadlineDays) * 24 * time.Hour)
			g.Deadline = &d
		}
		require.NoError(t, s.CreateGoal(g))
		return g
	}

	mkGoal("goal A", 8, 2, 0.1)
	mkGoal("goal B", 9, 0, 0.0)
	c := mkGoal("goal C", 5, 1, 0.8)

	recs, err := b.RecommendNextGoal("proj")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, c.ID, recs[0].Goal.ID, "urgency plus near-completion beats raw priority")
	assert.True(t, recs[0].OnTrack)
	assert.Greater(t, recs[0].Score, recs[1].Score)
}

func TestDecompositionContextCarriesStrategy(t *testing.T) {
	s := newTestStore(t)
	b := NewBridge(s, executive.NewStrategySelector(s))

	deadline := time.Now().UTC().Add(36 * time.Hour)
	g := &types.Goal{
		Project:  "proj",
		Text:     "ship the billing migration",
		Type:     types.GoalPrimary,
		Priority: 8,
		Status:   types.GoalActive,
		Deadline: &deadline,
	}
	require.NoError(t, s.CreateGoal(g))

	dc, err := b.DecompositionContextFor(g.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyDeadlineDriven, dc.Strategy)
	assert.NotEmpty(t, dc.Reasoning)
	assert.Len(t, dc.Alternatives, 2)
	assert.Greater(t, dc.Confidence, dc.Alternatives[0].Score)
}

func TestBridgeSnapshots(t *testing.T) {
	s := newTestStore(t)
	b := NewBridge(s, executive.NewStrategySelector(s))

	b.RecordSnapshot(PlanSnapshot{GoalID: "g1", PlanID: "p1", Progress: 0.25})
	b.RecordSnapshot(PlanSnapshot{GoalID: "g1", PlanID: "p1", Progress: 0.75})

	snaps := b.Snapshots("g1")
	require.Len(t, snaps, 2)
	assert.Equal(t, 0.25, snaps[0].Progress)
	assert.False(t, snaps[1].RecordedAt.IsZero())
	assert.Empty(t, b.Snapshots("g2"))
}
