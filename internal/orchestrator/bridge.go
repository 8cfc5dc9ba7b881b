package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"hivemind/internal/executive"
	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Goal-ranking weights for recommend-next-goal.
const (
	rankWeightPriority = 0.40
	rankWeightUrgency  = 0.35
	rankWeightProgress = 0.15
	rankOnTrackBonus   = 0.10
)

// DecompositionContext carries the executive's strategy choice into a
// planner run.
type DecompositionContext struct {
	GoalID       string
	Strategy     types.Strategy
	Confidence   float64
	Reasoning    string
	Alternatives []executive.StrategyRecommendation
}

// GoalRecommendation is a ranked goal with its composite score.
type GoalRecommendation struct {
	Goal    *types.Goal
	Score   float64
	OnTrack bool
}

// PlanSnapshot ties an execution plan's health back to the goal it serves.
type PlanSnapshot struct {
	GoalID     string
	PlanID     string
	TaskID     string
	Progress   float64
	Completed  int
	Failed     int
	RecordedAt time.Time
}

// Bridge converts executive goals into orchestration inputs and back.
type Bridge struct {
	goals    store.GoalStore
	selector *executive.StrategySelector

	snapshots map[string][]PlanSnapshot // goal id -> history
}

func NewBridge(goals store.GoalStore, selector *executive.StrategySelector) *Bridge {
	return &Bridge{
		goals:     goals,
		selector:  selector,
		snapshots: make(map[string][]PlanSnapshot),
	}
}

// DecompositionContextFor picks a strategy for the goal and packages it with
// its alternatives for the planner.
func (b *Bridge) DecompositionContextFor(goalID string, blockers int) (*DecompositionContext, error) {
	goal, err := b.goals.GetGoal(goalID)
	if err != nil {
		return nil, fmt.Errorf("load goal: %w", err)
	}
	recs, err := b.selector.Select(goal, blockers, 3)
	if err != nil {
		return nil, fmt.Errorf("select strategy: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no strategy candidates for goal %s", goalID)
	}
	return &DecompositionContext{
		GoalID:       goalID,
		Strategy:     recs[0].Strategy,
		Confidence:   recs[0].Score,
		Reasoning:    recs[0].Reasoning,
		Alternatives: recs[1:],
	}, nil
}

// RecommendNextGoal ranks the project's active goals by the composite
// 0.4 priority + 0.35 deadline urgency + 0.15 progress score, with a bonus
// for goals tracking toward their deadline, and returns them best first.
func (b *Bridge) RecommendNextGoal(project string) ([]GoalRecommendation, error) {
	goals, err := b.goals.ListGoals(project, types.GoalActive)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	if len(goals) == 0 {
		return nil, nil
	}

	recs := make([]GoalRecommendation, 0, len(goals))
	for _, g := range goals {
		onTrack := goalOnTrack(g)
		score := rankWeightPriority*(float64(g.Priority)/10) +
			rankWeightUrgency*executive.DeadlineUrgency(g.Deadline) +
			rankWeightProgress*g.Progress
		if onTrack {
			score += rankOnTrackBonus
		}
		recs = append(recs, GoalRecommendation{Goal: g, Score: score, OnTrack: onTrack})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })

	logging.Executive("recommend next goal for %s: %q (score %.3f of %d candidates)",
		project, recs[0].Goal.Text, recs[0].Score, len(recs))
	return recs, nil
}

// RecordSnapshot stores plan health at the goal level.
func (b *Bridge) RecordSnapshot(s PlanSnapshot) {
	s.RecordedAt = time.Now().UTC()
	b.snapshots[s.GoalID] = append(b.snapshots[s.GoalID], s)
}

// Snapshots returns the recorded plan history for a goal, oldest first.
func (b *Bridge) Snapshots(goalID string) []PlanSnapshot {
	return append([]PlanSnapshot(nil), b.snapshots[goalID]...)
}

// goalOnTrack reports whether a deadlined goal has cleared most of its work:
// these goals reward a final push over a fresh context switch.
func goalOnTrack(g *types.Goal) bool {
	return g.Deadline != nil && g.Progress >= 0.5
}
