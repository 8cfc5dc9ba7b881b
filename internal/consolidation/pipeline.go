package consolidation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/config"
	"hivemind/internal/embedding"
	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

const (
	system1StopConfidence = 0.7
	simpleClusterMaxSize  = 5
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	store.EpisodicStore
	store.SemanticStore
	SetPatternEmbedding(id string, embedding []byte) error
	RecordConsolidationRun(r *types.ConsolidationReport) error
}

// Pipeline runs the episodic->semantic consolidation.
type Pipeline struct {
	store    Store
	cfg      config.ConsolidationConfig
	system2  *System2
	reviewer *Reviewer
	graph    *GraphSynthesizer
	embedder embedding.Engine

	now func() time.Time
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithSystem2 enables LLM-backed extraction for uncertain clusters.
func WithSystem2(s *System2) Option { return func(p *Pipeline) { p.system2 = s } }

// WithReviewer enables the second-model re-rating pass.
func WithReviewer(r *Reviewer) Option { return func(p *Pipeline) { p.reviewer = r } }

// WithGraph enables temporal-graph synthesis from the event stream.
func WithGraph(g *GraphSynthesizer) Option { return func(p *Pipeline) { p.graph = g } }

// WithEmbedder attaches an embedding vector to every stored pattern, making
// it reachable by semantic recall.
func WithEmbedder(e embedding.Engine) Option { return func(p *Pipeline) { p.embedder = e } }

func withClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func NewPipeline(st Store, cfg config.ConsolidationConfig, opts ...Option) *Pipeline {
	p := &Pipeline{store: st, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run consolidates the unconsolidated events of the last window for a
// project. An empty window yields an empty report, not an error.
func (p *Pipeline) Run(ctx context.Context, project string) (*types.ConsolidationReport, error) {
	start := p.now()
	report := &types.ConsolidationReport{
		RunID:     uuid.New().String()[:8],
		Project:   project,
		StartedAt: start,
	}

	since := start.Add(-time.Duration(p.cfg.WindowHours) * time.Hour)
	events, err := p.store.UnconsolidatedEvents(project, since, start)
	if err != nil {
		return nil, fmt.Errorf("acquire events: %w", err)
	}
	report.EventsProcessed = len(events)
	if len(events) == 0 {
		report.Duration = p.now().Sub(start)
		return report, nil
	}

	maxGap := time.Duration(p.cfg.MaxTimeGapMinutes) * time.Minute
	clusters := ClusterEvents(events, p.cfg.ClusterStrategy, p.cfg.SurpriseThreshold, maxGap)
	report.ClustersFormed = len(clusters)
	logging.Consolidation("run %s: %d events, %d clusters", report.RunID, len(events), len(clusters))

	report.QualityBefore = p.memoryQuality(project)

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(cluster.Events) < 2 {
			continue
		}
		if err := p.consolidateCluster(ctx, project, cluster, report); err != nil {
			logging.Consolidation("run %s: cluster of %d events skipped: %v",
				report.RunID, len(cluster.Events), err)
		}
	}

	if p.graph != nil {
		ents, rels, err := p.graph.Synthesize(project, events, start)
		if err != nil {
			logging.Consolidation("run %s: graph synthesis incomplete: %v", report.RunID, err)
		}
		report.GraphEntities = ents
		report.GraphRelations = rels
	}

	// Every event of the window is consumed by this run, whether or not its
	// cluster yielded a stored pattern. The next run starts from a clean
	// window instead of rechewing the same events.
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if err := p.store.MarkConsolidated(ids); err != nil {
		return report, fmt.Errorf("mark consolidated: %w", err)
	}

	report.QualityAfter = p.memoryQuality(project)
	report.Duration = p.now().Sub(start)
	if err := p.store.RecordConsolidationRun(report); err != nil {
		logging.Consolidation("run %s: report not recorded: %v", report.RunID, err)
	}
	logging.Consolidation("run %s: stored %d patterns (rejected %d, deferred %d), quality %+.3f",
		report.RunID, report.PatternsStored, report.PatternsRejected, report.PatternsDeferred,
		report.QualityDelta())
	return report, nil
}

func (p *Pipeline) consolidateCluster(ctx context.Context, project string, c *Cluster, report *types.ConsolidationReport) error {
	candidates := RunSystem1(c)

	// Escalate to the slow path unless the heuristics are confident and the
	// cluster is small enough to trust them.
	needSystem2 := system1Confidence(candidates) < system1StopConfidence || !clusterLooksSimple(c)
	if needSystem2 && p.system2 != nil {
		s2Start := p.now()
		s2, err := p.system2.Extract(ctx, c)
		report.System2Calls++
		report.System2Latency += p.now().Sub(s2Start)
		if err != nil {
			logging.ConsolidationDebug("system2 unavailable, heuristics only: %v", err)
		} else {
			s2 = p.reviewer.Review(ctx, c, s2)
			candidates = append(candidates, s2...)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	report.PatternsExtracted += len(candidates)

	validated := ValidateCandidates(c, candidates)
	report.PatternsRejected += len(candidates) - len(validated)
	resolved := ResolveConflicts(validated)

	stored := 0
	for _, v := range resolved {
		if v.Source == "deferred" {
			report.PatternsDeferred++
		} else if v.Confidence < p.cfg.MinConfidence {
			report.PatternsRejected++
			continue
		}
		if err := p.storePattern(ctx, project, c, v); err != nil {
			logging.Consolidation("pattern %q not stored: %v", truncate(v.Description, 60), err)
			continue
		}
		stored++
	}
	report.PatternsStored += stored
	return nil
}

func (p *Pipeline) storePattern(ctx context.Context, project string, c *Cluster, v Validated) error {
	ids := make([]string, len(c.Events))
	for i, e := range c.Events {
		ids[i] = e.ID
	}
	tags := append([]string(nil), v.Tags...)
	tags = append(tags, "consolidation", "source:"+v.Source, "confidence:"+confidenceBucket(v.Confidence))
	if v.Source == "deferred" {
		tags = append(tags, "needs-review")
	}
	pat := &types.SemanticPattern{
		ID:                uuid.New().String()[:8],
		Project:           project,
		Description:       v.Description,
		Type:              v.Type,
		Confidence:        v.Confidence,
		Tags:              tags,
		Evidence:          v.Evidence,
		SourceEventIDs:    ids,
		GroundingScore:    v.GroundingScore,
		HallucinationRisk: v.HallucinationRisk,
		Source:            v.Source,
		CreatedAt:         p.now(),
	}
	if err := p.store.StorePattern(pat); err != nil {
		return err
	}
	if p.embedder != nil {
		// A failed embedding never loses the pattern; lexical search still
		// reaches it.
		if vec, err := p.embedder.Embed(ctx, pat.Description); err != nil {
			logging.ConsolidationDebug("pattern %s not embedded: %v", pat.ID, err)
		} else if err := p.store.SetPatternEmbedding(pat.ID, store.EncodeVector(vec)); err != nil {
			logging.ConsolidationDebug("embedding for %s not stored: %v", pat.ID, err)
		}
	}
	return nil
}

// clusterLooksSimple gates the System-1 early stop: small, one clean causal
// story, no unresolved errors.
func clusterLooksSimple(c *Cluster) bool {
	if len(c.Events) > simpleClusterMaxSize {
		return false
	}
	for _, e := range c.Events {
		if e.Type == types.EventError && e.Outcome != types.OutcomeSuccess {
			return false
		}
	}
	return true
}

// memoryQuality scores the semantic memory as a weighted mean of usefulness
// (confidence as proxy), recency, and tag diversity. Monotonic in coverage:
// adding well-grounded patterns does not lower it.
func (p *Pipeline) memoryQuality(project string) float64 {
	patterns, err := p.store.ListPatterns(project, 200)
	if err != nil || len(patterns) == 0 {
		return 0
	}
	now := p.now()
	var usefulness, recency float64
	tagSet := make(map[string]bool)
	totalTags := 0
	for _, pat := range patterns {
		usefulness += pat.Confidence
		recency += recencyDecay(now.Sub(pat.CreatedAt))
		for _, t := range pat.Tags {
			tagSet[t] = true
			totalTags++
		}
	}
	n := float64(len(patterns))
	diversity := 0.0
	if totalTags > 0 {
		diversity = float64(len(tagSet)) / float64(totalTags)
	}
	return 0.4*(usefulness/n) + 0.3*(recency/n) + 0.3*diversity
}

func confidenceBucket(c float64) string {
	switch {
	case c >= 0.8:
		return "high"
	case c >= 0.6:
		return "medium"
	default:
		return "low"
	}
}
