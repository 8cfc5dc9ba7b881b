// Package planner turns a task into an execution plan: a DAG of estimated,
// risk-labeled steps with a critical path. The strategy-aware wrapper
// reshapes the DAG to match a chosen decomposition strategy.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// Planner produces the default four-phase plan.
type Planner struct{}

// New returns a core planner.
func New() *Planner {
	return &Planner{}
}

// phase is one of the default decomposition phases.
type phase struct {
	name     string
	hours    float64
	risk     types.RiskLevel
	salience float64
	criteria []string
	res      map[string]float64
}

func defaultPhases(complexity string) []phase {
	// Duration scales with complexity class.
	scale := map[string]float64{"simple": 0.5, "medium": 1, "complex": 2}[complexity]
	if scale == 0 {
		scale = 1
	}
	return []phase{
		{
			name: "plan", hours: 1 * scale, risk: types.RiskLow, salience: 0.7,
			criteria: []string{"approach documented", "subtasks identified"},
			res:      map[string]float64{"cpu": 0.2, "memory": 0.3},
		},
		{
			name: "implement", hours: 4 * scale, risk: types.RiskMedium, salience: 0.9,
			criteria: []string{"all planned changes made", "code compiles"},
			res:      map[string]float64{"cpu": 0.6, "memory": 0.5, "io": 0.4},
		},
		{
			name: "test", hours: 2 * scale, risk: types.RiskMedium, salience: 0.8,
			criteria: []string{"tests pass", "edge cases covered"},
			res:      map[string]float64{"cpu": 0.8, "memory": 0.4},
		},
		{
			name: "deploy", hours: 1 * scale, risk: types.RiskHigh, salience: 0.6,
			criteria: []string{"deployed without rollback", "health checks green"},
			res:      map[string]float64{"network": 0.5, "io": 0.3},
		},
	}
}

// Plan builds a strictly linear plan → implement → test → deploy plan.
func (p *Planner) Plan(task *types.Task) (*types.ExecutionPlan, error) {
	if task == nil || task.Title == "" {
		return nil, fmt.Errorf("task with a title is required")
	}

	complexity := classifyComplexity(task)
	phases := defaultPhases(complexity)

	steps := make([]types.PlanStep, len(phases))
	var prev string
	for i, ph := range phases {
		step := types.PlanStep{
			ID:              fmt.Sprintf("step-%d-%s", i+1, ph.name),
			Description:     fmt.Sprintf("%s: %s", capitalize(ph.name), task.Title),
			Duration:        time.Duration(ph.hours * float64(time.Hour)),
			Resources:       ph.res,
			Salience:        ph.salience,
			Risk:            ph.risk,
			SuccessCriteria: ph.criteria,
		}
		if prev != "" {
			step.DependsOn = []string{prev}
		}
		prev = step.ID
		steps[i] = step
	}

	plan := assemble(task, steps, complexity)
	logging.Planner("planned %s: %d steps, %s, confidence %.2f",
		task.ID, len(plan.Steps), plan.Duration, plan.Confidence)
	return plan, nil
}

// assemble computes the aggregates shared by core and strategy plans.
func assemble(task *types.Task, steps []types.PlanStep, complexity string) *types.ExecutionPlan {
	plan := &types.ExecutionPlan{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		Description: task.Title,
		Steps:       steps,
		Complexity:  complexity,
		CreatedAt:   time.Now().UTC(),
	}

	plan.Resources = make(map[string]float64)
	for _, s := range steps {
		for k, v := range s.Resources {
			if v > plan.Resources[k] {
				plan.Resources[k] = v
			}
		}
	}

	plan.CriticalPath = criticalPath(steps)
	plan.Duration = pathDuration(steps, plan.CriticalPath)
	plan.Confidence = planConfidence(steps)
	return plan
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// classifyComplexity buckets a task from its text.
func classifyComplexity(task *types.Task) string {
	text := strings.ToLower(task.Title + " " + task.Description)
	complexMarkers := []string{"architecture", "redesign", "migrate", "distributed", "refactor", "security", "concurrent"}
	simpleMarkers := []string{"fix typo", "rename", "bump", "tweak", "update comment", "small"}

	for _, m := range complexMarkers {
		if strings.Contains(text, m) {
			return "complex"
		}
	}
	for _, m := range simpleMarkers {
		if strings.Contains(text, m) {
			return "simple"
		}
	}
	return "medium"
}

// planConfidence starts at 0.85 and decays with high-risk steps and dense
// dependency structure.
func planConfidence(steps []types.PlanStep) float64 {
	conf := 0.85
	for _, s := range steps {
		if s.Risk == types.RiskHigh || s.Risk == types.RiskCritical {
			conf -= 0.05
		}
	}

	// Density: edges beyond a simple chain cost up to 0.10.
	if len(steps) > 1 {
		edges := 0
		for _, s := range steps {
			edges += len(s.DependsOn)
		}
		chain := len(steps) - 1
		if extra := edges - chain; extra > 0 {
			penalty := 0.02 * float64(extra)
			if penalty > 0.10 {
				penalty = 0.10
			}
			conf -= penalty
		}
	}

	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

// criticalPath enumerates all root-to-leaf paths depth-first and returns the
// one with the highest total duration.
func criticalPath(steps []types.PlanStep) []string {
	byID := make(map[string]*types.PlanStep, len(steps))
	dependents := make(map[string][]string)
	for i := range steps {
		s := &steps[i]
		byID[s.ID] = s
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var (
		best         []string
		bestDuration time.Duration
	)
	var walk func(id string, path []string, total time.Duration)
	walk = func(id string, path []string, total time.Duration) {
		step, ok := byID[id]
		if !ok {
			return
		}
		path = append(path, id)
		total += step.Duration

		next := dependents[id]
		if len(next) == 0 {
			if total > bestDuration {
				bestDuration = total
				best = append([]string(nil), path...)
			}
			return
		}
		for _, n := range next {
			walk(n, path, total)
		}
	}

	for i := range steps {
		if len(steps[i].DependsOn) == 0 {
			walk(steps[i].ID, nil, 0)
		}
	}
	return best
}

// pathDuration sums durations along a path of step ids.
func pathDuration(steps []types.PlanStep, path []string) time.Duration {
	byID := make(map[string]time.Duration, len(steps))
	for _, s := range steps {
		byID[s.ID] = s.Duration
	}
	var total time.Duration
	for _, id := range path {
		total += byID[id]
	}
	return total
}
