// Package executive implements goal management: the goal hierarchy, the
// task-switch cost model, conflict resolution between competing goals,
// strategy selection, and progress monitoring.
package executive

import (
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// DefaultPruneAge is how long a suspended goal may sit idle before pruning.
const DefaultPruneAge = 7 * 24 * time.Hour

// GoalHierarchy is CRUD over the goal tree with a bounded depth.
type GoalHierarchy struct {
	store store.GoalStore
}

// NewGoalHierarchy wires the hierarchy over the goal store.
func NewGoalHierarchy(st store.GoalStore) *GoalHierarchy {
	return &GoalHierarchy{store: st}
}

// Create validates and persists a goal. Depth is bounded by
// types.MaxGoalDepth; a goal with a parent inherits the project when unset.
func (g *GoalHierarchy) Create(goal *types.Goal) error {
	if goal.Text == "" {
		return fmt.Errorf("goal text is required")
	}
	if goal.Priority < 1 || goal.Priority > 10 {
		return fmt.Errorf("goal priority must be 1..10, got %d", goal.Priority)
	}
	if goal.Type == "" {
		goal.Type = types.GoalPrimary
	}

	if goal.ParentID != "" {
		parent, err := g.store.GetGoal(goal.ParentID)
		if err != nil {
			return fmt.Errorf("parent goal: %w", err)
		}
		if goal.Project == "" {
			goal.Project = parent.Project
		}
		depth, err := g.depth(parent)
		if err != nil {
			return err
		}
		if depth+1 >= types.MaxGoalDepth {
			return fmt.Errorf("goal depth limit %d exceeded", types.MaxGoalDepth)
		}
		if goal.Type == types.GoalPrimary {
			goal.Type = types.GoalSubgoal
		}
	}

	if err := g.store.CreateGoal(goal); err != nil {
		return err
	}
	logging.Executive("goal created: %s (priority %d, type %s)", goal.ID, goal.Priority, goal.Type)
	return nil
}

// depth walks up the parent chain.
func (g *GoalHierarchy) depth(goal *types.Goal) (int, error) {
	d := 0
	cur := goal
	for cur.ParentID != "" {
		parent, err := g.store.GetGoal(cur.ParentID)
		if err != nil {
			return 0, fmt.Errorf("broken parent chain at %s: %w", cur.ParentID, err)
		}
		d++
		cur = parent
		if d > types.MaxGoalDepth {
			return d, nil
		}
	}
	return d, nil
}

// Get fetches one goal.
func (g *GoalHierarchy) Get(id string) (*types.Goal, error) {
	return g.store.GetGoal(id)
}

// UpdateProgress sets a goal's progress, completing it at 1.0.
func (g *GoalHierarchy) UpdateProgress(id string, progress float64) error {
	goal, err := g.store.GetGoal(id)
	if err != nil {
		return err
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	goal.Progress = progress
	if progress >= 1 && !goal.Status.Terminal() {
		goal.Status = types.GoalCompleted
	}
	return g.store.UpdateGoal(goal)
}

// Complete marks a goal done; cascade completes its subtree too.
func (g *GoalHierarchy) Complete(id string, cascade bool) error {
	goal, err := g.store.GetGoal(id)
	if err != nil {
		return err
	}
	goal.Status = types.GoalCompleted
	goal.Progress = 1
	if err := g.store.UpdateGoal(goal); err != nil {
		return err
	}
	logging.Executive("goal completed: %s", id)

	if !cascade {
		return nil
	}
	subs, err := g.store.ListSubgoals(id)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Status.Terminal() {
			continue
		}
		if err := g.Complete(sub.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// Suspend pauses an active goal.
func (g *GoalHierarchy) Suspend(id string) error {
	goal, err := g.store.GetGoal(id)
	if err != nil {
		return err
	}
	if goal.Status.Terminal() {
		return fmt.Errorf("cannot suspend terminal goal %s", id)
	}
	goal.Status = types.GoalSuspended
	return g.store.UpdateGoal(goal)
}

// Activate resumes a suspended goal.
func (g *GoalHierarchy) Activate(id string) error {
	goal, err := g.store.GetGoal(id)
	if err != nil {
		return err
	}
	if goal.Status.Terminal() {
		return fmt.Errorf("cannot activate terminal goal %s", id)
	}
	goal.Status = types.GoalActive
	return g.store.UpdateGoal(goal)
}

// Active lists a project's active goals, highest priority first.
func (g *GoalHierarchy) Active(project string) ([]*types.Goal, error) {
	return g.store.ListGoals(project, types.GoalActive)
}

// Prune abandons suspended goals idle longer than maxIdle and returns how
// many were pruned.
func (g *GoalHierarchy) Prune(project string, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		maxIdle = DefaultPruneAge
	}
	suspended, err := g.store.ListGoals(project, types.GoalSuspended)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxIdle)
	pruned := 0
	for _, goal := range suspended {
		if goal.UpdatedAt.After(cutoff) {
			continue
		}
		goal.Status = types.GoalAbandoned
		if err := g.store.UpdateGoal(goal); err != nil {
			return pruned, err
		}
		pruned++
		logging.Executive("goal pruned after %s idle: %s", maxIdle, goal.ID)
	}
	return pruned, nil
}
