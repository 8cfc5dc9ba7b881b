package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/types"
)

func planTask(title string) *types.Task {
	return &types.Task{ID: "task-1", Title: title}
}

func TestCorePlanShape(t *testing.T) {
	p := New()
	plan, err := p.Plan(planTask("build the ingestion service"))
	require.NoError(t, err)

	require.Len(t, plan.Steps, 4)
	assert.Empty(t, plan.Steps[0].DependsOn)
	for i := 1; i < 4; i++ {
		require.Len(t, plan.Steps[i].DependsOn, 1)
		assert.Equal(t, plan.Steps[i-1].ID, plan.Steps[i].DependsOn[0])
	}

	// Linear chain: critical path covers every step.
	require.Len(t, plan.CriticalPath, 4)
	assert.Equal(t, plan.Steps[0].ID, plan.CriticalPath[0])

	var total time.Duration
	for _, s := range plan.Steps {
		total += s.Duration
	}
	assert.Equal(t, total, plan.Duration)
	assert.Equal(t, "medium", plan.Complexity)
}

func TestPlanRequiresTitle(t *testing.T) {
	p := New()
	_, err := p.Plan(&types.Task{})
	require.Error(t, err)
	_, err = p.Plan(nil)
	require.Error(t, err)
}

func TestComplexityClassification(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"redesign the storage architecture", "complex"},
		{"fix typo in readme", "simple"},
		{"add pagination to list endpoint", "medium"},
	}
	p := New()
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			plan, err := p.Plan(planTask(tt.title))
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Complexity)
		})
	}
}

func TestConfidencePenalties(t *testing.T) {
	// One high-risk step (deploy) in the default plan: 0.85 - 0.05.
	p := New()
	plan, err := p.Plan(planTask("ship feature"))
	require.NoError(t, err)
	assert.InDelta(t, 0.80, plan.Confidence, 1e-9)
}

func TestDenseDependencyPenalty(t *testing.T) {
	steps := []types.PlanStep{
		{ID: "a", Duration: time.Hour},
		{ID: "b", Duration: time.Hour, DependsOn: []string{"a"}},
		{ID: "c", Duration: time.Hour, DependsOn: []string{"a", "b"}},
		{ID: "d", Duration: time.Hour, DependsOn: []string{"a", "b", "c"}},
	}
	// 6 edges vs 3 for a chain: 3 extra * 0.02 = 0.06 penalty.
	assert.InDelta(t, 0.85-0.06, planConfidence(steps), 1e-9)
}

func TestCriticalPathPicksLongestBranch(t *testing.T) {
	steps := []types.PlanStep{
		{ID: "root", Duration: time.Hour},
		{ID: "short", Duration: time.Hour, DependsOn: []string{"root"}},
		{ID: "long", Duration: 5 * time.Hour, DependsOn: []string{"root"}},
	}
	assert.Equal(t, []string{"root", "long"}, criticalPath(steps))
}

func TestSpikeStrategyPrependsResearch(t *testing.T) {
	sp := NewStrategyPlanner(New())
	plan, err := sp.PlanWithStrategy(planTask("investigate flaky socket handling"),
		types.StrategySpike, "high uncertainty")
	require.NoError(t, err)

	require.Len(t, plan.Steps, 5)
	assert.Equal(t, "step-0-research", plan.Steps[0].ID)
	assert.Equal(t, types.StrategySpike, plan.Strategy)
	assert.Equal(t, "high uncertainty", plan.Reasoning)

	// The former root now depends on research.
	for _, s := range plan.Steps[1:] {
		if s.ID == "step-1-plan" {
			assert.Equal(t, []string{"step-0-research"}, s.DependsOn)
		}
	}
}

func TestParallelStrategyConverges(t *testing.T) {
	sp := NewStrategyPlanner(New())
	plan, err := sp.PlanWithStrategy(planTask("build exporters"),
		types.StrategyParallel, "independent subcomponents")
	require.NoError(t, err)

	byID := map[string]types.PlanStep{}
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	integrate, ok := byID["step-integrate"]
	require.True(t, ok, "parallel plans need an integration node")
	assert.Len(t, integrate.DependsOn, 2)

	// Test phase now waits on integration.
	test := byID["step-3-test"]
	assert.Equal(t, []string{"step-integrate"}, test.DependsOn)
}

func TestQualityFirstDuplicatesGates(t *testing.T) {
	sp := NewStrategyPlanner(New())
	plan, err := sp.PlanWithStrategy(planTask("harden auth"),
		types.StrategyQualityFirst, "correctness over speed")
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, s := range plan.Steps {
		ids[s.ID] = true
	}
	assert.True(t, ids["step-3-test"])
	assert.True(t, ids["step-3-test-pass2"])
	assert.True(t, ids["step-review"])
}

func TestExperimentalStrategyBranches(t *testing.T) {
	sp := NewStrategyPlanner(New())
	plan, err := sp.PlanWithStrategy(planTask("try a new cache layout"),
		types.StrategyExperimental, "uncertain payoff")
	require.NoError(t, err)

	byID := map[string]types.PlanStep{}
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}
	evaluate, ok := byID["step-evaluate"]
	require.True(t, ok)
	assert.Len(t, evaluate.DependsOn, 2, "two competing branches feed evaluation")
}

func TestDeadlineDrivenCompresses(t *testing.T) {
	sp := NewStrategyPlanner(New())
	base, err := New().Plan(planTask("ship it"))
	require.NoError(t, err)
	plan, err := sp.PlanWithStrategy(planTask("ship it"),
		types.StrategyDeadlineDriven, "hard deadline")
	require.NoError(t, err)

	assert.Less(t, int64(plan.Duration), int64(base.Duration))
	// Compression trades time for risk, lowering confidence.
	assert.LessOrEqual(t, plan.Confidence, base.Confidence)
}

func TestSequentialMatchesCore(t *testing.T) {
	sp := NewStrategyPlanner(New())
	plan, err := sp.PlanWithStrategy(planTask("routine work"),
		types.StrategySequential, "no special shape")
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 4)
}
