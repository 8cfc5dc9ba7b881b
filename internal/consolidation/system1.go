package consolidation

import (
	"fmt"
	"strings"

	"hivemind/internal/types"
)

// Candidate is a pattern proposal awaiting validation.
type Candidate struct {
	Description string
	Type        types.PatternType
	Confidence  float64
	Tags        []string
	Evidence    []string
	Source      string // system1 | system2
}

// system1Detector is one cheap heuristic over a cluster.
type system1Detector struct {
	name   string
	detect func(c *Cluster) *Candidate
}

var system1Detectors = []system1Detector{
	{name: "tdd", detect: detectTDD},
	{name: "error-recovery", detect: detectErrorRecovery},
	{name: "refactoring", detect: detectRefactoring},
	{name: "architectural-decision", detect: detectArchDecision},
}

// RunSystem1 fires all heuristic detectors over a cluster.
func RunSystem1(c *Cluster) []Candidate {
	var out []Candidate
	for _, d := range system1Detectors {
		if cand := d.detect(c); cand != nil {
			cand.Source = "system1"
			out = append(out, *cand)
		}
	}
	return out
}

// system1Confidence aggregates candidate confidence: the max, since one
// strong detection is enough to trust the cheap path.
func system1Confidence(cands []Candidate) float64 {
	best := 0.0
	for _, c := range cands {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}

// detectTDD looks for the red-green cycle: failing test, change, passing
// test.
func detectTDD(c *Cluster) *Candidate {
	var failedTest, change, passedTest *types.EpisodicEvent
	for _, e := range c.Events {
		switch {
		case failedTest == nil && e.Type == types.EventTestRun && e.Outcome == types.OutcomeFailure:
			failedTest = e
		case failedTest != nil && change == nil &&
			(e.Type == types.EventFileChange || e.Type == types.EventAction):
			change = e
		case change != nil && e.Type == types.EventTestRun && e.Outcome == types.OutcomeSuccess:
			passedTest = e
		}
	}
	if failedTest == nil || change == nil || passedTest == nil {
		return nil
	}
	return &Candidate{
		Description: "Test-driven cycle: failing test, targeted change, passing test",
		Type:        types.PatternWorkflow,
		Confidence:  0.8,
		Tags:        []string{"tdd", "testing", "workflow"},
		Evidence: []string{
			evidenceLine(failedTest),
			evidenceLine(change),
			evidenceLine(passedTest),
		},
	}
}

// detectErrorRecovery looks for an error followed by actions ending in
// success.
func detectErrorRecovery(c *Cluster) *Candidate {
	var errEvent, recovery *types.EpisodicEvent
	for _, e := range c.Events {
		switch {
		case errEvent == nil && e.Type == types.EventError:
			errEvent = e
		case errEvent != nil && e.Outcome == types.OutcomeSuccess && e.Type != types.EventTestRun:
			recovery = e
		}
	}
	if errEvent == nil || recovery == nil {
		return nil
	}
	return &Candidate{
		Description: fmt.Sprintf("Recovery from error: %s", truncate(errEvent.Content, 80)),
		Type:        types.PatternFact,
		Confidence:  0.7,
		Tags:        []string{"error-recovery", "debugging"},
		Evidence:    []string{evidenceLine(errEvent), evidenceLine(recovery)},
	}
}

// detectRefactoring looks for repeated file changes with passing tests and
// refactor-flavored content.
func detectRefactoring(c *Cluster) *Candidate {
	changes := 0
	testsPassed := false
	var firstChange *types.EpisodicEvent
	mentionsRefactor := false
	for _, e := range c.Events {
		if e.Type == types.EventFileChange {
			changes++
			if firstChange == nil {
				firstChange = e
			}
			if containsAny(e.Content, "refactor", "rename", "extract", "restructure", "cleanup") {
				mentionsRefactor = true
			}
		}
		if e.Type == types.EventTestRun && e.Outcome == types.OutcomeSuccess {
			testsPassed = true
		}
	}
	if changes < 3 || !testsPassed || !mentionsRefactor {
		return nil
	}
	return &Candidate{
		Description: "Refactoring pass: repeated structural changes held green by tests",
		Type:        types.PatternWorkflow,
		Confidence:  0.65,
		Tags:        []string{"refactoring", "workflow"},
		Evidence:    []string{evidenceLine(firstChange)},
	}
}

// detectArchDecision looks for decision events with architectural language.
func detectArchDecision(c *Cluster) *Candidate {
	for _, e := range c.Events {
		if e.Type != types.EventDecision {
			continue
		}
		if containsAny(e.Content, "architecture", "design", "chose", "decided", "trade-off", "tradeoff") {
			return &Candidate{
				Description: fmt.Sprintf("Architectural decision: %s", truncate(e.Content, 120)),
				Type:        types.PatternDecision,
				Confidence:  0.75,
				Tags:        []string{"architecture", "decision"},
				Evidence:    []string{evidenceLine(e)},
			}
		}
	}
	return nil
}

func evidenceLine(e *types.EpisodicEvent) string {
	return fmt.Sprintf("[%s %s/%s] %s",
		e.Timestamp.Format("15:04:05"), e.Type, e.Outcome, truncate(e.Content, 100))
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
