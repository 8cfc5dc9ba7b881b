package executive

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Resolution is the outcome of arbitrating competing goals.
type Resolution struct {
	PrimaryID   string             `json:"primary_id"`
	Scores      map[string]float64 `json:"scores"`
	Allocations map[string]float64 `json:"allocations"` // relative to primary
	Suspended   []string           `json:"suspended"`
	Reasoning   string             `json:"reasoning"`
}

// ConflictResolver picks a primary among competing goals.
type ConflictResolver struct {
	store store.GoalStore
}

// NewConflictResolver wires the resolver over the goal store.
func NewConflictResolver(st store.GoalStore) *ConflictResolver {
	return &ConflictResolver{store: st}
}

// suspendThreshold: goals allocated under half of the primary's score are
// suspended rather than starved.
const suspendThreshold = 0.5

// Resolve scores each goal 0.4·priority + 0.3·urgency + 0.2·dependency +
// 0.1·progress, picks the highest as primary, and suspends goals whose
// relative allocation falls below the threshold.
func (cr *ConflictResolver) Resolve(goalIDs []string) (*Resolution, error) {
	if len(goalIDs) < 2 {
		return nil, fmt.Errorf("need at least two competing goals, got %d", len(goalIDs))
	}

	goals := make([]*types.Goal, 0, len(goalIDs))
	for _, id := range goalIDs {
		g, err := cr.store.GetGoal(id)
		if err != nil {
			return nil, fmt.Errorf("goal %s: %w", id, err)
		}
		goals = append(goals, g)
	}

	res := &Resolution{
		Scores:      make(map[string]float64, len(goals)),
		Allocations: make(map[string]float64, len(goals)),
	}
	for _, g := range goals {
		res.Scores[g.ID] = cr.score(g)
	}

	sort.Slice(goals, func(i, j int) bool {
		return res.Scores[goals[i].ID] > res.Scores[goals[j].ID]
	})
	primary := goals[0]
	res.PrimaryID = primary.ID
	primaryScore := res.Scores[primary.ID]

	var reasons []string
	reasons = append(reasons, fmt.Sprintf("primary %q scored %.2f", primary.Text, primaryScore))
	for _, g := range goals {
		alloc := 1.0
		if primaryScore > 0 {
			alloc = res.Scores[g.ID] / primaryScore
		}
		res.Allocations[g.ID] = alloc
		if g.ID != primary.ID && alloc < suspendThreshold {
			res.Suspended = append(res.Suspended, g.ID)
			reasons = append(reasons, fmt.Sprintf("%q suspended at %.0f%% allocation", g.Text, alloc*100))
		}
	}
	res.Reasoning = strings.Join(reasons, "; ")

	logging.Executive("conflict resolved: primary=%s suspended=%d (%s)",
		res.PrimaryID, len(res.Suspended), res.Reasoning)
	return res, nil
}

// score combines explicit priority, deadline urgency, dependency weight,
// and progress.
func (cr *ConflictResolver) score(g *types.Goal) float64 {
	priority := float64(g.Priority) / 10

	urgency := DeadlineUrgency(g.Deadline)

	// Goals with children carry more downstream weight.
	dependency := 0.0
	if subs, err := cr.store.ListSubgoals(g.ID); err == nil && len(subs) > 0 {
		dependency = float64(len(subs)) / 5
		if dependency > 1 {
			dependency = 1
		}
	}

	return 0.4*priority + 0.3*urgency + 0.2*dependency + 0.1*g.Progress
}

// DeadlineUrgency maps days-until-deadline to a 0..1 urgency.
func DeadlineUrgency(deadline *time.Time) float64 {
	if deadline == nil {
		return 0
	}
	days := time.Until(*deadline).Hours() / 24
	switch {
	case days <= 0:
		return 1.0
	case days <= 3:
		return 0.9
	case days <= 7:
		return 0.5
	case days <= 14:
		return 0.2
	default:
		return 0
	}
}
