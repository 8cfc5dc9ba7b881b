package executive

import (
	"fmt"
	"sort"
	"strings"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// StrategyRecommendation is one ranked strategy with its rationale.
type StrategyRecommendation struct {
	Strategy  types.Strategy `json:"strategy"`
	Score     float64        `json:"score"`
	Reasoning string         `json:"reasoning"`
}

// StrategySelector scores the closed strategy set against goal features,
// blended with the historical success rate of each strategy.
type StrategySelector struct {
	store store.GoalStore
}

// NewStrategySelector wires the selector over the goal store.
func NewStrategySelector(st store.GoalStore) *StrategySelector {
	return &StrategySelector{store: st}
}

// goalFeatures is the bag of signals extracted from a goal.
type goalFeatures struct {
	complexity int // 1..5
	hours      float64
	priority   int
	urgency    float64
	blockers   int
	related    int
	progress   float64
}

// Blend weights: features dominate, history refines.
const (
	featureWeight    = 0.7
	historicalWeight = 0.3
)

// Select returns the top-k strategies for a goal (default 3).
func (ss *StrategySelector) Select(goal *types.Goal, blockers int, k int) ([]StrategyRecommendation, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}
	if k <= 0 {
		k = 3
	}

	feats := ss.extractFeatures(goal, blockers)
	rates, err := ss.store.StrategySuccessRates()
	if err != nil {
		return nil, fmt.Errorf("strategy history: %w", err)
	}

	recs := make([]StrategyRecommendation, 0, len(types.AllStrategies()))
	for _, strategy := range types.AllStrategies() {
		feature, why := featureScore(strategy, feats)

		historical, seen := rates[strategy]
		if !seen {
			// Unseen strategies get a neutral prior.
			historical = 0.5
		}
		score := featureWeight*feature + historicalWeight*historical

		recs = append(recs, StrategyRecommendation{
			Strategy: strategy,
			Score:    score,
			Reasoning: fmt.Sprintf("%s (feature %.2f, historical %.2f)",
				why, feature, historical),
		})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > k {
		recs = recs[:k]
	}

	logging.Executive("strategy for goal %s: %s (%.2f)", goal.ID, recs[0].Strategy, recs[0].Score)
	return recs, nil
}

// RecordOutcome persists whether a chosen strategy worked, so success rates
// converge over time.
func (ss *StrategySelector) RecordOutcome(strategy types.Strategy, success bool) error {
	return ss.store.RecordStrategyOutcome(strategy, success)
}

// extractFeatures derives the scoring signals from the goal.
func (ss *StrategySelector) extractFeatures(goal *types.Goal, blockers int) goalFeatures {
	related := 0
	if subs, err := ss.store.ListSubgoals(goal.ID); err == nil {
		related = len(subs)
	}
	return goalFeatures{
		complexity: textComplexity(goal.Text),
		hours:      goal.EstimatedHours,
		priority:   goal.Priority,
		urgency:    DeadlineUrgency(goal.Deadline),
		blockers:   blockers,
		related:    related,
		progress:   goal.Progress,
	}
}

// textComplexity infers a 1..5 complexity from goal text keywords.
func textComplexity(text string) int {
	lower := strings.ToLower(text)
	score := 2
	for _, kw := range []string{"architecture", "distributed", "migrate", "redesign", "system"} {
		if strings.Contains(lower, kw) {
			score += 2
			break
		}
	}
	for _, kw := range []string{"refactor", "integrate", "concurrent", "pipeline"} {
		if strings.Contains(lower, kw) {
			score++
			break
		}
	}
	for _, kw := range []string{"typo", "rename", "bump", "tweak"} {
		if strings.Contains(lower, kw) {
			score = 1
			break
		}
	}
	if score > 5 {
		score = 5
	}
	return score
}

// featureScore rates one strategy against the feature bag, returning the
// score and a one-line rationale.
func featureScore(strategy types.Strategy, f goalFeatures) (float64, string) {
	switch strategy {
	case types.StrategyTopDown:
		if f.complexity >= 4 {
			return 0.8, "high complexity favors decomposing from the top"
		}
		return 0.6, "solid default for structured work"
	case types.StrategyBottomUp:
		if f.related >= 3 {
			return 0.75, "many related goals suggest assembling from existing parts"
		}
		return 0.45, "few existing parts to build on"
	case types.StrategySpike:
		if f.complexity >= 4 && f.progress < 0.1 {
			return 0.85, "complex and unexplored, a time-boxed spike de-risks it"
		}
		return 0.3, "unknowns are limited"
	case types.StrategyIncremental:
		if f.hours > 8 {
			return 0.8, "long work benefits from shippable increments"
		}
		return 0.55, "moderate scope still splits cleanly"
	case types.StrategyParallel:
		if f.related >= 2 && f.blockers == 0 {
			return 0.75, "independent pieces with no blockers can run in parallel"
		}
		return 0.35, "insufficient independent work"
	case types.StrategySequential:
		if f.blockers > 0 {
			return 0.7, "blockers force ordered execution"
		}
		return 0.5, "works but leaves parallelism unused"
	case types.StrategyDeadlineDriven:
		if f.urgency >= 0.9 {
			return 0.9, "deadline is imminent"
		}
		if f.urgency >= 0.5 {
			return 0.6, "deadline is near"
		}
		return 0.2, "no deadline pressure"
	case types.StrategyQualityFirst:
		if f.priority >= 8 && f.urgency < 0.5 {
			return 0.75, "high stakes with time to do it right"
		}
		return 0.4, "quality gates would slow this down unnecessarily"
	case types.StrategyCollaboration:
		if f.related >= 3 {
			return 0.65, "many touching goals need coordinated ownership"
		}
		return 0.3, "single-owner work"
	case types.StrategyExperimental:
		if f.complexity >= 4 && f.urgency < 0.2 {
			return 0.6, "room to race competing approaches"
		}
		return 0.25, "experimentation overhead unjustified"
	default:
		return 0.3, "no specific fit"
	}
}
