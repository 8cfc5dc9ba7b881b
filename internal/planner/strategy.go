package planner

import (
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// StrategyPlanner wraps the core planner and reshapes the step DAG to match
// a chosen decomposition strategy.
type StrategyPlanner struct {
	core *Planner
}

// NewStrategyPlanner wraps a core planner.
func NewStrategyPlanner(core *Planner) *StrategyPlanner {
	return &StrategyPlanner{core: core}
}

// PlanWithStrategy produces a plan shaped by the strategy, carrying the
// strategy and its reasoning on the plan.
func (sp *StrategyPlanner) PlanWithStrategy(task *types.Task, strategy types.Strategy, reasoning string) (*types.ExecutionPlan, error) {
	base, err := sp.core.Plan(task)
	if err != nil {
		return nil, err
	}

	steps := reshape(base.Steps, strategy, task)
	plan := assemble(task, steps, base.Complexity)
	plan.Strategy = strategy
	plan.Reasoning = reasoning

	logging.Planner("strategy plan for %s: %s, %d steps, confidence %.2f",
		task.ID, strategy, len(plan.Steps), plan.Confidence)
	return plan, nil
}

// reshape rewrites the linear four-phase DAG into the strategy's shape.
func reshape(base []types.PlanStep, strategy types.Strategy, task *types.Task) []types.PlanStep {
	switch strategy {
	case types.StrategySpike:
		return withResearchFirst(base, task, 2*time.Hour, "Spike: time-boxed research into the riskiest unknown")
	case types.StrategyBottomUp:
		return withResearchFirst(base, task, time.Hour, "Survey existing components to build on")
	case types.StrategyParallel:
		return parallelShape(base, task)
	case types.StrategyIncremental:
		return incrementalShape(base, task)
	case types.StrategyQualityFirst:
		return qualityFirstShape(base, task)
	case types.StrategyExperimental:
		return experimentalShape(base, task)
	case types.StrategyDeadlineDriven:
		return deadlineShape(base)
	case types.StrategyCollaboration:
		return collaborationShape(base, task)
	case types.StrategyTopDown, types.StrategySequential:
		// The default linear decomposition already is top-down/sequential.
		return base
	default:
		return base
	}
}

// withResearchFirst prepends a research step the rest depends on.
func withResearchFirst(base []types.PlanStep, task *types.Task, d time.Duration, desc string) []types.PlanStep {
	research := types.PlanStep{
		ID:              "step-0-research",
		Description:     fmt.Sprintf("%s: %s", desc, task.Title),
		Duration:        d,
		Resources:       map[string]float64{"cpu": 0.3, "network": 0.4},
		Salience:        0.8,
		Risk:            types.RiskLow,
		SuccessCriteria: []string{"unknowns answered", "approach validated"},
	}
	out := make([]types.PlanStep, 0, len(base)+1)
	out = append(out, research)
	for _, s := range base {
		if len(s.DependsOn) == 0 {
			s.DependsOn = []string{research.ID}
		}
		out = append(out, s)
	}
	return out
}

// parallelShape splits implementation into independent tracks that converge
// on an integration node before testing.
func parallelShape(base []types.PlanStep, task *types.Task) []types.PlanStep {
	impl, rest := splitPhase(base, "implement")
	if impl == nil {
		return base
	}

	tracks := []types.PlanStep{}
	trackIDs := []string{}
	for i := 1; i <= 2; i++ {
		t := *impl
		t.ID = fmt.Sprintf("%s-track%d", impl.ID, i)
		t.Description = fmt.Sprintf("Implement track %d: %s", i, task.Title)
		t.Duration = impl.Duration / 2
		tracks = append(tracks, t)
		trackIDs = append(trackIDs, t.ID)
	}
	integrate := types.PlanStep{
		ID:              "step-integrate",
		Description:     "Integrate parallel tracks: " + task.Title,
		Duration:        time.Hour,
		DependsOn:       trackIDs,
		Resources:       map[string]float64{"cpu": 0.4},
		Salience:        0.8,
		Risk:            types.RiskMedium,
		SuccessCriteria: []string{"tracks merged", "interfaces reconciled"},
	}

	return reattach(rest, impl.ID, integrate.ID, append(tracks, integrate))
}

// incrementalShape turns implementation into two increments, each gated by
// its own verification.
func incrementalShape(base []types.PlanStep, task *types.Task) []types.PlanStep {
	impl, rest := splitPhase(base, "implement")
	if impl == nil {
		return base
	}

	var out []types.PlanStep
	prev := impl.DependsOn
	var lastID string
	for i := 1; i <= 2; i++ {
		inc := *impl
		inc.ID = fmt.Sprintf("%s-inc%d", impl.ID, i)
		inc.Description = fmt.Sprintf("Increment %d: %s", i, task.Title)
		inc.Duration = impl.Duration / 2
		inc.DependsOn = prev

		verify := types.PlanStep{
			ID:              fmt.Sprintf("step-verify-inc%d", i),
			Description:     fmt.Sprintf("Verify increment %d: %s", i, task.Title),
			Duration:        30 * time.Minute,
			DependsOn:       []string{inc.ID},
			Salience:        0.7,
			Risk:            types.RiskLow,
			SuccessCriteria: []string{"increment works in isolation"},
		}
		out = append(out, inc, verify)
		prev = []string{verify.ID}
		lastID = verify.ID
	}

	return reattach(rest, impl.ID, lastID, out)
}

// qualityFirstShape duplicates the test gate and adds a review gate.
func qualityFirstShape(base []types.PlanStep, task *types.Task) []types.PlanStep {
	test, rest := splitPhase(base, "test")
	if test == nil {
		return base
	}

	second := *test
	second.ID = test.ID + "-pass2"
	second.Description = "Second test pass (regression + edge cases): " + task.Title
	second.DependsOn = []string{test.ID}

	review := types.PlanStep{
		ID:              "step-review",
		Description:     "Quality review gate: " + task.Title,
		Duration:        time.Hour,
		DependsOn:       []string{second.ID},
		Salience:        0.8,
		Risk:            types.RiskLow,
		SuccessCriteria: []string{"review approved", "no open blockers"},
	}

	// Everything that depended on the original test gate now waits for the
	// review gate instead.
	out := reattach(rest, test.ID, review.ID, nil)
	return append(out, *test, second, review)
}

// experimentalShape races two competing implementations into an
// evaluate-and-pick node.
func experimentalShape(base []types.PlanStep, task *types.Task) []types.PlanStep {
	impl, rest := splitPhase(base, "implement")
	if impl == nil {
		return base
	}

	var branches []types.PlanStep
	var branchIDs []string
	for i, approach := range []string{"conservative", "novel"} {
		b := *impl
		b.ID = fmt.Sprintf("%s-branch%d", impl.ID, i+1)
		b.Description = fmt.Sprintf("Competing %s implementation: %s", approach, task.Title)
		b.Risk = types.RiskHigh
		branches = append(branches, b)
		branchIDs = append(branchIDs, b.ID)
	}
	evaluate := types.PlanStep{
		ID:              "step-evaluate",
		Description:     "Evaluate branches and pick the winner: " + task.Title,
		Duration:        time.Hour,
		DependsOn:       branchIDs,
		Salience:        0.9,
		Risk:            types.RiskMedium,
		SuccessCriteria: []string{"winner chosen with rationale", "loser discarded"},
	}

	return reattach(rest, impl.ID, evaluate.ID, append(branches, evaluate))
}

// deadlineShape compresses estimates and accepts the added risk.
func deadlineShape(base []types.PlanStep) []types.PlanStep {
	out := make([]types.PlanStep, len(base))
	for i, s := range base {
		s.Duration = s.Duration * 3 / 4
		if s.Risk == types.RiskLow {
			s.Risk = types.RiskMedium
		} else if s.Risk == types.RiskMedium {
			s.Risk = types.RiskHigh
		}
		out[i] = s
	}
	return out
}

// collaborationShape adds an alignment step before implementation.
func collaborationShape(base []types.PlanStep, task *types.Task) []types.PlanStep {
	impl, _ := splitPhase(base, "implement")
	if impl == nil {
		return base
	}
	align := types.PlanStep{
		ID:              "step-align",
		Description:     "Align interfaces and ownership across agents: " + task.Title,
		Duration:        30 * time.Minute,
		DependsOn:       impl.DependsOn,
		Salience:        0.7,
		Risk:            types.RiskLow,
		SuccessCriteria: []string{"interfaces agreed", "work divided"},
	}

	out := make([]types.PlanStep, 0, len(base)+1)
	for _, s := range base {
		if s.ID == impl.ID {
			s.DependsOn = []string{align.ID}
		}
		out = append(out, s)
	}
	return append([]types.PlanStep{align}, out...)
}

// splitPhase finds the step for a named phase and returns it plus the rest.
func splitPhase(steps []types.PlanStep, name string) (*types.PlanStep, []types.PlanStep) {
	suffix := "-" + name
	var found *types.PlanStep
	var rest []types.PlanStep
	for i := range steps {
		if found == nil && len(steps[i].ID) > len(suffix) &&
			steps[i].ID[len(steps[i].ID)-len(suffix):] == suffix {
			s := steps[i]
			found = &s
			continue
		}
		rest = append(rest, steps[i])
	}
	return found, rest
}

// reattach replaces a removed step with replacement steps: anything that
// depended on oldID now depends on newTailID.
func reattach(rest []types.PlanStep, oldID, newTailID string, replacement []types.PlanStep) []types.PlanStep {
	out := append([]types.PlanStep{}, rest...)
	for i := range out {
		for j, dep := range out[i].DependsOn {
			if dep == oldID {
				out[i].DependsOn[j] = newTailID
			}
		}
	}
	return append(out, replacement...)
}
