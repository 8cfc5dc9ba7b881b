package executive

import (
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// stallThreshold: a goal with no progress for this long raises a blocker.
const stallThreshold = 2 * time.Hour

// Blocker is a detected impediment on a goal.
type Blocker struct {
	GoalID     string    `json:"goal_id"`
	Severity   string    `json:"severity"` // low/medium/high
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// Forecast is a completion projection for a goal.
type Forecast struct {
	GoalID              string    `json:"goal_id"`
	Velocity            float64   `json:"velocity"` // progress fraction per hour
	ProjectedCompletion time.Time `json:"projected_completion"`
	Confidence          float64   `json:"confidence"`
}

// ProgressMonitor generates milestones, detects stalls, and forecasts
// completion.
type ProgressMonitor struct {
	store store.GoalStore
}

// NewProgressMonitor wires the monitor over the goal store.
func NewProgressMonitor(st store.GoalStore) *ProgressMonitor {
	return &ProgressMonitor{store: st}
}

// milestoneTemplates by complexity class: simple goals get 3 checkpoints,
// complex ones get 5.
var milestoneTemplates = map[string][]struct {
	pct  float64
	desc string
}{
	"simple": {
		{33, "first third done"},
		{66, "second third done"},
		{100, "goal complete"},
	},
	"medium": {
		{25, "approach settled"},
		{50, "half the work landed"},
		{75, "main work done, verification remains"},
		{100, "goal complete"},
	},
	"complex": {
		{20, "design validated"},
		{40, "core implemented"},
		{60, "integrated with surroundings"},
		{80, "verified end to end"},
		{100, "goal complete"},
	},
}

// GenerateMilestones derives 3-5 milestones from the goal's complexity and
// persists them, replacing any prior set.
func (pm *ProgressMonitor) GenerateMilestones(goal *types.Goal) ([]types.Milestone, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}

	class := "medium"
	switch c := textComplexity(goal.Text); {
	case c <= 1:
		class = "simple"
	case c >= 4:
		class = "complex"
	}

	template := milestoneTemplates[class]
	ms := make([]types.Milestone, len(template))
	for i, t := range template {
		ms[i] = types.Milestone{
			GoalID:      goal.ID,
			Description: t.desc,
			TargetPct:   t.pct,
		}
	}
	if err := pm.store.SaveMilestones(goal.ID, ms); err != nil {
		return nil, err
	}
	logging.Executive("generated %d milestones for goal %s (%s)", len(ms), goal.ID, class)
	return ms, nil
}

// CheckMilestones marks reached milestones against current progress and
// returns the updated set.
func (pm *ProgressMonitor) CheckMilestones(goal *types.Goal) ([]types.Milestone, error) {
	ms, err := pm.store.ListMilestones(goal.ID)
	if err != nil {
		return nil, err
	}
	changed := false
	now := time.Now().UTC()
	for i := range ms {
		if !ms[i].Reached && goal.Progress*100 >= ms[i].TargetPct {
			ms[i].Reached = true
			ms[i].ReachedAt = &now
			changed = true
			logging.Executive("milestone reached on %s: %s", goal.ID, ms[i].Description)
		}
	}
	if changed {
		if err := pm.store.SaveMilestones(goal.ID, ms); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// DetectStall raises a high-severity blocker when an active goal has made
// no progress past the stall threshold.
func (pm *ProgressMonitor) DetectStall(goal *types.Goal) *Blocker {
	if goal.Status != types.GoalActive || goal.Progress >= 1 {
		return nil
	}
	idle := time.Since(goal.UpdatedAt)
	if idle <= stallThreshold {
		return nil
	}
	b := &Blocker{
		GoalID:     goal.ID,
		Severity:   "high",
		Reason:     fmt.Sprintf("no progress for %s (stalled at %.0f%%)", idle.Round(time.Minute), goal.Progress*100),
		DetectedAt: time.Now().UTC(),
	}
	logging.Executive("stall detected on goal %s: %s", goal.ID, b.Reason)
	return b
}

// ForecastCompletion projects when the goal finishes from observed
// velocity. Confidence starts at 0.7 and halves when the projection
// disagrees wildly with the original estimate.
func (pm *ProgressMonitor) ForecastCompletion(goal *types.Goal) (*Forecast, error) {
	if goal.Progress <= 0 {
		return nil, fmt.Errorf("no progress to extrapolate from")
	}
	elapsed := time.Since(goal.CreatedAt).Hours()
	if elapsed <= 0 {
		return nil, fmt.Errorf("goal has no elapsed time")
	}

	velocity := goal.Progress / elapsed
	remainingHours := (1 - goal.Progress) / velocity
	projected := time.Now().UTC().Add(time.Duration(remainingHours * float64(time.Hour)))

	confidence := 0.7
	if goal.EstimatedHours > 0 {
		projectedTotal := elapsed + remainingHours
		ratio := projectedTotal / goal.EstimatedHours
		if ratio > 2 || ratio < 0.5 {
			confidence /= 2
		}
	}

	return &Forecast{
		GoalID:              goal.ID,
		Velocity:            velocity,
		ProjectedCompletion: projected,
		Confidence:          confidence,
	}, nil
}
