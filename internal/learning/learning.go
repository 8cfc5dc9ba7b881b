// Package learning closes the feedback loop: per-worker and per-domain
// success tracking, distilled periodically into procedural and meta entries
// in the semantic store, plus strategy outcome bookkeeping for the selector.
package learning

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Tracker accumulates execution outcomes. It is an explicit dependency of
// the orchestrator, never a global.
type Tracker struct {
	semantic store.SemanticStore
	goals    store.GoalStore

	mu      sync.Mutex
	workers map[string]*tally // agent id
	domains map[string]*tally // domain label, e.g. agent type or task tag
}

type tally struct {
	attempts   int
	successes  int
	confidence float64 // running sum
	elapsed    time.Duration
}

func (t *tally) rate() float64 {
	if t.attempts == 0 {
		return 0
	}
	return float64(t.successes) / float64(t.attempts)
}

func NewTracker(semantic store.SemanticStore, goals store.GoalStore) *Tracker {
	return &Tracker{
		semantic: semantic,
		goals:    goals,
		workers:  make(map[string]*tally),
		domains:  make(map[string]*tally),
	}
}

// RecordExecution logs one finished task execution.
func (t *Tracker) RecordExecution(agentID, domain string, success bool, confidence float64, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if agentID != "" {
		bump(t.workers, agentID, success, confidence, elapsed)
	}
	if domain != "" {
		bump(t.domains, domain, success, confidence, elapsed)
	}
}

func bump(m map[string]*tally, key string, success bool, confidence float64, elapsed time.Duration) {
	tl := m[key]
	if tl == nil {
		tl = &tally{}
		m[key] = tl
	}
	tl.attempts++
	if success {
		tl.successes++
	}
	tl.confidence += confidence
	tl.elapsed += elapsed
}

// RecordStrategyOutcome feeds a finished plan back into strategy history.
func (t *Tracker) RecordStrategyOutcome(strategy types.Strategy, success bool) error {
	return t.goals.RecordStrategyOutcome(strategy, success)
}

// WorkerSuccessRate returns the success rate for one agent, and whether any
// executions were recorded.
func (t *Tracker) WorkerSuccessRate(agentID string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl, ok := t.workers[agentID]
	if !ok {
		return 0, false
	}
	return tl.rate(), true
}

// DomainSuccessRate returns the success rate for one domain.
func (t *Tracker) DomainSuccessRate(domain string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl, ok := t.domains[domain]
	if !ok {
		return 0, false
	}
	return tl.rate(), true
}

// minFlushAttempts keeps one-off observations out of the semantic store.
const minFlushAttempts = 5

// Flush distills accumulated domain statistics into semantic entries: a
// procedural fact per sufficiently observed domain, and one meta summary of
// where the system is weakest. Counters reset on success.
func (t *Tracker) Flush(project string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type domainStat struct {
		domain string
		t      *tally
	}
	var stats []domainStat
	for d, tl := range t.domains {
		if tl.attempts >= minFlushAttempts {
			stats = append(stats, domainStat{d, tl})
		}
	}
	if len(stats) == 0 {
		return 0, nil
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].t.rate() < stats[j].t.rate() })

	written := 0
	for _, s := range stats {
		avgConf := s.t.confidence / float64(s.t.attempts)
		p := &types.SemanticPattern{
			ID:      uuid.New().String()[:8],
			Project: project,
			Description: fmt.Sprintf("%s work succeeds %.0f%% of the time (%d runs, avg confidence %.2f, avg %.0fs)",
				s.domain, s.t.rate()*100, s.t.attempts, avgConf,
				(s.t.elapsed / time.Duration(s.t.attempts)).Seconds()),
			Type:       types.PatternFact,
			Confidence: observationConfidence(s.t.attempts),
			Tags:       []string{"procedural", "domain:" + s.domain},
			Source:     "learning",
			CreatedAt:  time.Now().UTC(),
		}
		if err := t.semantic.StorePattern(p); err != nil {
			return written, fmt.Errorf("store procedural entry: %w", err)
		}
		written++
	}

	weakest := stats[0]
	meta := &types.SemanticPattern{
		ID:      uuid.New().String()[:8],
		Project: project,
		Description: fmt.Sprintf("weakest domain is %s at %.0f%% success; route harder %s tasks to stronger workers or add review gates",
			weakest.domain, weakest.t.rate()*100, weakest.domain),
		Type:       types.PatternFact,
		Confidence: observationConfidence(weakest.t.attempts),
		Tags:       []string{"meta", "domain:" + weakest.domain},
		Source:     "learning",
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.semantic.StorePattern(meta); err != nil {
		return written, fmt.Errorf("store meta entry: %w", err)
	}
	written++

	t.domains = make(map[string]*tally)
	logging.Learning("flushed %d entries for %s", written, project)
	return written, nil
}

// observationConfidence grows with sample size, capped at 0.9: learned
// statistics never outrank directly validated patterns.
func observationConfidence(attempts int) float64 {
	c := 0.5 + 0.05*float64(attempts)
	if c > 0.9 {
		c = 0.9
	}
	return c
}
