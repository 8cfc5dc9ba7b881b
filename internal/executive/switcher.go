package executive

import (
	"fmt"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Switch cost bounds in milliseconds of charged overhead.
const (
	switchCostBase = 5.0
	switchCostCap  = 50.0
)

// TaskSwitcher charges a quadratic cost for changing the active goal and
// keeps the switch history for overhead accounting.
type TaskSwitcher struct {
	store store.GoalStore
}

// NewTaskSwitcher wires the switcher over the goal store.
func NewTaskSwitcher(st store.GoalStore) *TaskSwitcher {
	return &TaskSwitcher{store: st}
}

// SwitchCost is the charged overhead for moving between priorities:
// base + (Δpriority/10)² · 100, clamped to the cap. Larger priority jumps
// cost quadratically more.
func SwitchCost(fromPriority, toPriority int) float64 {
	delta := float64(toPriority - fromPriority)
	cost := switchCostBase + (delta/10)*(delta/10)*100
	if cost > switchCostCap {
		cost = switchCostCap
	}
	return cost
}

// Switch records a goal switch with its cost and an optional context
// snapshot for later restoration.
func (ts *TaskSwitcher) Switch(project, fromGoalID, toGoalID, reason string, snapshot map[string]any) (*types.TaskSwitch, error) {
	if toGoalID == "" {
		return nil, fmt.Errorf("target goal id is required")
	}

	fromPriority := 0
	if fromGoalID != "" {
		from, err := ts.store.GetGoal(fromGoalID)
		if err != nil {
			return nil, fmt.Errorf("from goal: %w", err)
		}
		fromPriority = from.Priority
	}
	to, err := ts.store.GetGoal(toGoalID)
	if err != nil {
		return nil, fmt.Errorf("to goal: %w", err)
	}

	sw := &types.TaskSwitch{
		Project:    project,
		FromGoalID: fromGoalID,
		ToGoalID:   toGoalID,
		CostMillis: SwitchCost(fromPriority, to.Priority),
		Reason:     reason,
		Context:    snapshot,
	}
	if err := ts.store.RecordSwitch(sw); err != nil {
		return nil, err
	}
	logging.Executive("switch %s -> %s cost=%.1fms (%s)", fromGoalID, toGoalID, sw.CostMillis, reason)
	return sw, nil
}

// Overhead reports total and average switch cost for a project over its
// recorded history.
func (ts *TaskSwitcher) Overhead(project string) (total, avg float64, err error) {
	switches, err := ts.store.ListSwitches(project, 1000)
	if err != nil {
		return 0, 0, err
	}
	for _, sw := range switches {
		total += sw.CostMillis
	}
	if len(switches) > 0 {
		avg = total / float64(len(switches))
	}
	return total, avg, nil
}
