package consolidation

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"hivemind/internal/store"
	"hivemind/internal/types"
)

const (
	causalityWindow    = 10 * time.Minute
	causalityThreshold = 0.3
	recencyHalfLife    = 7 * 24 * time.Hour
	minEdgeFrequency   = 2
)

// GraphSynthesizer derives knowledge-graph updates from the event stream.
type GraphSynthesizer struct {
	graph store.GraphStore
}

func NewGraphSynthesizer(graph store.GraphStore) *GraphSynthesizer {
	return &GraphSynthesizer{graph: graph}
}

type edgeKey struct {
	from, relation, to string
}

// Synthesize walks the window's events, accumulates file co-change and
// failure-fix edges, and pushes those above the frequency and causality
// floors into the graph. Returns entity and relation counts written.
func (g *GraphSynthesizer) Synthesize(project string, events []*types.EpisodicEvent, now time.Time) (int, int, error) {
	if g == nil || g.graph == nil || len(events) == 0 {
		return 0, 0, nil
	}

	entities := make(map[string]string) // name -> kind
	freq := make(map[edgeKey]int)
	weight := make(map[edgeKey]float64)

	observe := func(from, rel, to string, at time.Time) {
		k := edgeKey{from, rel, to}
		freq[k]++
		weight[k] += recencyDecay(now.Sub(at))
	}

	for i, e := range events {
		for _, f := range e.Context.Files {
			entities[f] = "file"
		}
		if e.Context.TaskID != "" {
			entities[e.Context.TaskID] = "task"
			for _, f := range e.Context.Files {
				observe(e.Context.TaskID, "touches", f, e.Timestamp)
			}
		}
		// Files changed in one event co-evolve.
		for a := 0; a < len(e.Context.Files); a++ {
			for b := a + 1; b < len(e.Context.Files); b++ {
				observe(e.Context.Files[a], "co_changed", e.Context.Files[b], e.Timestamp)
			}
		}
		// A change soon after a failure plausibly fixes it.
		if e.Type == types.EventFileChange && i > 0 {
			prev := events[i-1]
			if prev.Outcome == types.OutcomeFailure &&
				e.Timestamp.Sub(prev.Timestamp) <= causalityWindow {
				for _, f := range e.Context.Files {
					failure := failureEntity(prev)
					entities[failure] = "failure"
					observe(f, "fixes", failure, e.Timestamp)
				}
			}
		}
	}

	entityCount := 0
	for name, kind := range entities {
		if err := g.graph.UpsertEntity(project, name, kind); err != nil {
			return entityCount, 0, fmt.Errorf("graph entity %s: %w", name, err)
		}
		entityCount++
	}

	relationCount := 0
	for k, n := range freq {
		if n < minEdgeFrequency && k.relation != "fixes" {
			continue
		}
		w := weight[k]
		if w < causalityThreshold {
			continue
		}
		if err := g.graph.UpsertRelation(project, k.from, k.relation, k.to, w); err != nil {
			return entityCount, relationCount, fmt.Errorf("graph relation %s-%s->%s: %w", k.from, k.relation, k.to, err)
		}
		relationCount++
	}
	return entityCount, relationCount, nil
}

// recencyDecay halves an observation's weight every half-life.
func recencyDecay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/recencyHalfLife.Hours())
}

// failureEntity names a failure node stably enough to accumulate fixes.
func failureEntity(e *types.EpisodicEvent) string {
	if len(e.Context.Files) > 0 {
		return "failure:" + filepath.Base(e.Context.Files[0])
	}
	return "failure:" + string(e.Type)
}
