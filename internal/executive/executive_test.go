package executive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/store"
	"hivemind/internal/types"
)

func newGoalStore(t *testing.T) *store.Local {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mkGoal(priority int, text string) *types.Goal {
	return &types.Goal{Project: "proj", Text: text, Priority: priority}
}

func TestGoalDepthBound(t *testing.T) {
	st := newGoalStore(t)
	gh := NewGoalHierarchy(st)

	parent := mkGoal(5, "root goal")
	require.NoError(t, gh.Create(parent))

	prev := parent.ID
	// Root is depth 0; children down to depth MaxGoalDepth-1 are allowed.
	for i := 1; i < types.MaxGoalDepth; i++ {
		child := mkGoal(5, "nested goal")
		child.ParentID = prev
		require.NoError(t, gh.Create(child), "depth %d should be allowed", i)
		prev = child.ID
	}

	tooDeep := mkGoal(5, "one level too far")
	tooDeep.ParentID = prev
	assert.Error(t, gh.Create(tooDeep))
}

func TestGoalValidation(t *testing.T) {
	gh := NewGoalHierarchy(newGoalStore(t))
	assert.Error(t, gh.Create(&types.Goal{Priority: 5}))
	assert.Error(t, gh.Create(&types.Goal{Text: "x", Priority: 0}))
	assert.Error(t, gh.Create(&types.Goal{Text: "x", Priority: 11}))
}

func TestCompleteCascades(t *testing.T) {
	st := newGoalStore(t)
	gh := NewGoalHierarchy(st)

	parent := mkGoal(5, "parent")
	require.NoError(t, gh.Create(parent))
	child := mkGoal(5, "child")
	child.ParentID = parent.ID
	require.NoError(t, gh.Create(child))

	require.NoError(t, gh.Complete(parent.ID, true))

	got, err := gh.Get(child.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GoalCompleted, got.Status)
	assert.Equal(t, float64(1), got.Progress)
}

func TestPruneSuspendedGoals(t *testing.T) {
	st := newGoalStore(t)
	gh := NewGoalHierarchy(st)

	stale := mkGoal(5, "stale goal")
	require.NoError(t, gh.Create(stale))
	require.NoError(t, gh.Suspend(stale.ID))

	fresh := mkGoal(5, "fresh goal")
	require.NoError(t, gh.Create(fresh))
	require.NoError(t, gh.Suspend(fresh.ID))

	// Only idle-past-threshold goals go. A tiny threshold with a short sleep
	// keeps the test fast while exercising the cutoff.
	time.Sleep(20 * time.Millisecond)
	n, err := gh.Prune("proj", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := gh.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GoalAbandoned, got.Status)
}

func TestSwitchCostFormula(t *testing.T) {
	tests := []struct {
		from, to int
		want     float64
	}{
		{5, 5, 5},   // no delta, base cost
		{5, 6, 6},   // 5 + (1/10)^2*100 = 6
		{2, 8, 41},  // 5 + (6/10)^2*100 = 41
		{1, 10, 50}, // 5 + 81 = 86, clamped
		{10, 1, 50}, // symmetric clamp
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, SwitchCost(tt.from, tt.to), 1e-9,
			"from %d to %d", tt.from, tt.to)
	}
}

func TestSwitchRecordsAndOverhead(t *testing.T) {
	st := newGoalStore(t)
	gh := NewGoalHierarchy(st)
	ts := NewTaskSwitcher(st)

	a := mkGoal(2, "goal a")
	b := mkGoal(8, "goal b")
	require.NoError(t, gh.Create(a))
	require.NoError(t, gh.Create(b))

	sw, err := ts.Switch("proj", a.ID, b.ID, "deadline pressure",
		map[string]any{"open_file": "main.go"})
	require.NoError(t, err)
	assert.InDelta(t, 41, sw.CostMillis, 1e-9)

	_, err = ts.Switch("proj", b.ID, a.ID, "back to background work", nil)
	require.NoError(t, err)

	total, avg, err := ts.Overhead("proj")
	require.NoError(t, err)
	assert.InDelta(t, 82, total, 1e-9)
	assert.InDelta(t, 41, avg, 1e-9)
}

func TestConflictResolution(t *testing.T) {
	st := newGoalStore(t)
	gh := NewGoalHierarchy(st)
	cr := NewConflictResolver(st)

	urgent := mkGoal(6, "urgent delivery")
	soon := time.Now().Add(24 * time.Hour)
	urgent.Deadline = &soon
	require.NoError(t, gh.Create(urgent))

	background := mkGoal(3, "background cleanup")
	require.NoError(t, gh.Create(background))

	res, err := cr.Resolve([]string{urgent.ID, background.ID})
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, res.PrimaryID)
	assert.Contains(t, res.Suspended, background.ID,
		"low-allocation goal should be suspended")
	assert.NotEmpty(t, res.Reasoning)

	_, err = cr.Resolve([]string{urgent.ID})
	assert.Error(t, err, "a single goal is not a conflict")
}

func TestDeadlineUrgencyTable(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		in   time.Duration
		want float64
	}{
		{-day, 1.0},
		{2 * day, 0.9},
		{5 * day, 0.5},
		{10 * day, 0.2},
		{30 * day, 0},
	}
	for _, tt := range tests {
		at := time.Now().Add(tt.in)
		assert.InDelta(t, tt.want, DeadlineUrgency(&at), 1e-9)
	}
	assert.Zero(t, DeadlineUrgency(nil))
}

func TestStrategySelectorRanksByFit(t *testing.T) {
	st := newGoalStore(t)
	ss := NewStrategySelector(st)

	goal := mkGoal(5, "migrate the storage architecture to a distributed system")
	deadline := time.Now().Add(12 * time.Hour)
	goal.Deadline = &deadline
	goal.ID = "goal-1"

	recs, err := ss.Select(goal, 0, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, types.StrategyDeadlineDriven, recs[0].Strategy,
		"imminent deadline dominates")
	assert.NotEmpty(t, recs[0].Reasoning)
	assert.GreaterOrEqual(t, recs[0].Score, recs[1].Score)
}

func TestStrategyHistoryShiftsRanking(t *testing.T) {
	st := newGoalStore(t)
	ss := NewStrategySelector(st)

	goal := mkGoal(5, "routine feature work")
	goal.ID = "goal-1"

	// Make top_down historically terrible and sequential flawless.
	for i := 0; i < 10; i++ {
		require.NoError(t, ss.RecordOutcome(types.StrategyTopDown, false))
		require.NoError(t, ss.RecordOutcome(types.StrategySequential, true))
	}

	recs, err := ss.Select(goal, 0, 10)
	require.NoError(t, err)

	pos := map[types.Strategy]int{}
	for i, r := range recs {
		pos[r.Strategy] = i
	}
	assert.Less(t, pos[types.StrategySequential], pos[types.StrategyTopDown],
		"history should lift sequential above the discredited default")
}

func TestMilestoneGeneration(t *testing.T) {
	st := newGoalStore(t)
	pm := NewProgressMonitor(st)
	gh := NewGoalHierarchy(st)

	tests := []struct {
		text string
		want int
	}{
		{"fix typo in config", 3},
		{"add pagination endpoint", 4},
		{"redesign the distributed architecture", 5},
	}
	for _, tt := range tests {
		goal := mkGoal(5, tt.text)
		require.NoError(t, gh.Create(goal))
		ms, err := pm.GenerateMilestones(goal)
		require.NoError(t, err)
		assert.Len(t, ms, tt.want, tt.text)
		assert.Equal(t, float64(100), ms[len(ms)-1].TargetPct)
	}
}

func TestCheckMilestonesMarksReached(t *testing.T) {
	st := newGoalStore(t)
	pm := NewProgressMonitor(st)
	gh := NewGoalHierarchy(st)

	goal := mkGoal(5, "add pagination endpoint")
	require.NoError(t, gh.Create(goal))
	_, err := pm.GenerateMilestones(goal)
	require.NoError(t, err)

	goal.Progress = 0.6
	ms, err := pm.CheckMilestones(goal)
	require.NoError(t, err)

	reached := 0
	for _, m := range ms {
		if m.Reached {
			reached++
			assert.NotNil(t, m.ReachedAt)
		}
	}
	assert.Equal(t, 2, reached, "25%% and 50%% milestones are behind 60%% progress")
}

func TestDetectStall(t *testing.T) {
	pm := NewProgressMonitor(newGoalStore(t))

	goal := mkGoal(5, "stalled work")
	goal.ID = "goal-1"
	goal.Status = types.GoalActive
	goal.Progress = 0.3
	goal.UpdatedAt = time.Now().Add(-3 * time.Hour)

	b := pm.DetectStall(goal)
	require.NotNil(t, b)
	assert.Equal(t, "high", b.Severity)

	goal.UpdatedAt = time.Now().Add(-10 * time.Minute)
	assert.Nil(t, pm.DetectStall(goal))
}

func TestForecastCompletion(t *testing.T) {
	pm := NewProgressMonitor(newGoalStore(t))

	goal := mkGoal(5, "steady work")
	goal.ID = "goal-1"
	goal.CreatedAt = time.Now().Add(-2 * time.Hour)
	goal.Progress = 0.5
	goal.EstimatedHours = 4

	f, err := pm.ForecastCompletion(goal)
	require.NoError(t, err)
	// 0.5 progress over 2h: velocity 0.25/h, 2h remaining.
	assert.InDelta(t, 0.25, f.Velocity, 0.01)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), f.ProjectedCompletion, 5*time.Minute)
	// Projection matches the 4h estimate, full confidence retained.
	assert.InDelta(t, 0.7, f.Confidence, 1e-9)

	// A wildly optimistic estimate halves confidence.
	goal.EstimatedHours = 1
	f, err = pm.ForecastCompletion(goal)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, f.Confidence, 1e-9)

	goal.Progress = 0
	_, err = pm.ForecastCompletion(goal)
	assert.Error(t, err)
}
