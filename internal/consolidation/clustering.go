// Package consolidation transforms windows of raw episodic events into
// validated semantic patterns: cluster, extract (dual-process), ground,
// resolve, persist. Hallucination control is explicit at every step.
package consolidation

import (
	"math"
	"sort"
	"strings"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// Spatial similarity weights for context clustering.
const (
	weightCWD   = 0.5
	weightFiles = 0.3
	weightPhase = 0.2
)

// Cluster is a group of related events with its quality metrics.
type Cluster struct {
	Events []*types.EpisodicEvent

	// quality metrics, computed once the cluster is final
	Span        time.Duration
	Cohesion    float64 // mean pairwise spatial similarity
	CausalChain bool    // error->fix->success or fail->change->pass shape
}

// ClusterEvents groups events with the named strategy. Surprise clustering
// falls back to context clustering when no surprise signal exists.
func ClusterEvents(events []*types.EpisodicEvent, strategy string, surpriseThreshold float64, maxGap time.Duration) []*Cluster {
	if len(events) == 0 {
		return nil
	}

	var clusters []*Cluster
	switch strategy {
	case "surprise":
		clusters = surpriseClusters(events, surpriseThreshold)
		if clusters == nil {
			logging.ConsolidationDebug("no surprise signal, falling back to context clustering")
			clusters = contextClusters(events, maxGap)
		}
	default:
		clusters = contextClusters(events, maxGap)
	}

	for _, c := range clusters {
		c.computeQuality()
	}
	logging.Consolidation("clustered %d events into %d clusters (%s)",
		len(events), len(clusters), strategy)
	return clusters
}

// contextClusters groups by session, then splits each session's timeline
// wherever spatial similarity drops or the temporal gap exceeds maxGap.
func contextClusters(events []*types.EpisodicEvent, maxGap time.Duration) []*Cluster {
	if maxGap <= 0 {
		maxGap = time.Hour
	}

	bySession := make(map[string][]*types.EpisodicEvent)
	var order []string
	for _, e := range events {
		if _, seen := bySession[e.SessionID]; !seen {
			order = append(order, e.SessionID)
		}
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}

	var out []*Cluster
	for _, session := range order {
		group := bySession[session]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		// An event joins the current cluster if it is similar enough to the
		// cluster's last event and close enough in time.
		var current *Cluster
		for _, e := range group {
			if current != nil {
				last := current.Events[len(current.Events)-1]
				if e.Timestamp.Sub(last.Timestamp) <= maxGap && spatialSimilarity(last, e) >= 0.5 {
					current.Events = append(current.Events, e)
					continue
				}
			}
			current = &Cluster{Events: []*types.EpisodicEvent{e}}
			out = append(out, current)
		}
	}
	return out
}

// surpriseClusters treats high-surprise events as boundaries: each becomes
// a center and every other event joins the temporally nearest center.
// Returns nil when no event crosses the threshold.
func surpriseClusters(events []*types.EpisodicEvent, threshold float64) []*Cluster {
	if threshold <= 0 {
		threshold = 3.5
	}

	var centers []*types.EpisodicEvent
	for _, e := range events {
		if e.Surprise >= threshold {
			centers = append(centers, e)
		}
	}
	if len(centers) == 0 {
		return nil
	}

	clusters := make([]*Cluster, len(centers))
	for i, c := range centers {
		clusters[i] = &Cluster{Events: []*types.EpisodicEvent{c}}
	}

	for _, e := range events {
		if e.Surprise >= threshold {
			continue
		}
		best := 0
		bestDist := math.MaxFloat64
		for i, c := range centers {
			d := math.Abs(e.Timestamp.Sub(c.Timestamp).Seconds())
			if d < bestDist {
				bestDist = d
				best = i
			}
		}
		clusters[best].Events = append(clusters[best].Events, e)
	}

	for _, c := range clusters {
		sort.Slice(c.Events, func(i, j int) bool {
			return c.Events[i].Timestamp.Before(c.Events[j].Timestamp)
		})
	}
	return clusters
}

// spatialSimilarity scores two events: shared cwd depth (0.5), file-set
// Jaccard (0.3), shared task/phase (0.2), normalized by the weights that
// actually had signal on either side.
func spatialSimilarity(a, b *types.EpisodicEvent) float64 {
	var score, active float64

	if a.Context.CWD != "" || b.Context.CWD != "" {
		active += weightCWD
		score += weightCWD * sharedPathDepth(a.Context.CWD, b.Context.CWD)
	}
	if len(a.Context.Files) > 0 || len(b.Context.Files) > 0 {
		active += weightFiles
		score += weightFiles * jaccard(a.Context.Files, b.Context.Files)
	}
	if a.Context.TaskID != "" || b.Context.TaskID != "" || a.Context.Phase != "" || b.Context.Phase != "" {
		active += weightPhase
		if (a.Context.TaskID != "" && a.Context.TaskID == b.Context.TaskID) ||
			(a.Context.Phase != "" && a.Context.Phase == b.Context.Phase) {
			score += weightPhase
		}
	}

	if active == 0 {
		// No spatial signal at all: same session is the only tie, treat as
		// similar enough to stay in one cluster.
		return 1
	}
	return score / active
}

// sharedPathDepth is the fraction of leading path segments two working
// directories share.
func sharedPathDepth(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	segA := strings.Split(strings.Trim(a, "/"), "/")
	segB := strings.Split(strings.Trim(b, "/"), "/")
	maxLen := len(segA)
	if len(segB) > maxLen {
		maxLen = len(segB)
	}
	shared := 0
	for i := 0; i < len(segA) && i < len(segB); i++ {
		if segA[i] != segB[i] {
			break
		}
		shared++
	}
	return float64(shared) / float64(maxLen)
}

// jaccard is set intersection over union.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	inter := 0
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		if setB[s] {
			continue
		}
		setB[s] = true
		if setA[s] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// computeQuality fills the cluster's observability metrics.
func (c *Cluster) computeQuality() {
	if len(c.Events) == 0 {
		return
	}
	c.Span = c.Events[len(c.Events)-1].Timestamp.Sub(c.Events[0].Timestamp)

	if len(c.Events) > 1 {
		var sum float64
		pairs := 0
		for i := 0; i < len(c.Events); i++ {
			for j := i + 1; j < len(c.Events); j++ {
				sum += spatialSimilarity(c.Events[i], c.Events[j])
				pairs++
			}
		}
		c.Cohesion = sum / float64(pairs)
	} else {
		c.Cohesion = 1
	}

	c.CausalChain = hasCausalChain(c.Events)
}

// hasCausalChain detects failure->change->success shapes: an error or
// failed test, followed by an action or file change, followed by success.
func hasCausalChain(events []*types.EpisodicEvent) bool {
	const (
		wantFailure = iota
		wantChange
		wantSuccess
	)
	state := wantFailure
	for _, e := range events {
		switch state {
		case wantFailure:
			if e.Outcome == types.OutcomeFailure &&
				(e.Type == types.EventError || e.Type == types.EventTestRun) {
				state = wantChange
			}
		case wantChange:
			if e.Type == types.EventFileChange || e.Type == types.EventAction {
				state = wantSuccess
			}
		case wantSuccess:
			if e.Outcome == types.OutcomeSuccess {
				return true
			}
		}
	}
	return false
}
