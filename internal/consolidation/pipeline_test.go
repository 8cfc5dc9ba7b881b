package consolidation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/config"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

func newTestStore(t *testing.T) *store.Local {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(id, session string, at time.Time, typ types.EventType, outcome types.Outcome, content, cwd string) *types.EpisodicEvent {
	return &types.EpisodicEvent{
		ID:        id,
		Project:   "proj",
		SessionID: session,
		Timestamp: at,
		Type:      typ,
		Content:   content,
		Outcome:   outcome,
		Context:   types.EventContext{CWD: cwd},
	}
}

func testPipeline(t *testing.T, s *store.Local, now time.Time, opts ...Option) *Pipeline {
	t.Helper()
	cfg := config.Default().Consolidation
	opts = append(opts, withClock(func() time.Time { return now }))
	return NewPipeline(s, cfg, opts...)
}

func TestTDDClusterProducesWorkflowPattern(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	base := now.Add(-1 * time.Hour)

	events := []*types.EpisodicEvent{
		event("e1", "sess-1", base, types.EventTestRun, types.OutcomeFailure,
			"go test ./internal/parser: TestUnquote fails on escaped newline", "/repo/internal/parser"),
		event("e2", "sess-1", base.Add(5*time.Minute), types.EventFileChange, types.OutcomeSuccess,
			"handle escaped newline in unquote before the length check", "/repo/internal/parser"),
		event("e3", "sess-1", base.Add(10*time.Minute), types.EventTestRun, types.OutcomeSuccess,
			"go test ./internal/parser: all tests pass", "/repo/internal/parser"),
	}
	for _, e := range events {
		require.NoError(t, s.AppendEvent(e))
	}

	p := testPipeline(t, s, now)
	report, err := p.Run(context.Background(), "proj")
	require.NoError(t, err)

	assert.Equal(t, 3, report.EventsProcessed)
	assert.Equal(t, 1, report.ClustersFormed)
	require.GreaterOrEqual(t, report.PatternsStored, 1)

	patterns, err := s.ListPatterns("proj", 10)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	var tdd *types.SemanticPattern
	for _, pat := range patterns {
		if pat.Type == types.PatternWorkflow {
			tdd = pat
			break
		}
	}
	require.NotNil(t, tdd, "expected a workflow pattern from the red-green cycle")
	assert.GreaterOrEqual(t, tdd.Confidence, 0.7)
	assert.Contains(t, tdd.Tags, "tdd")
	assert.Len(t, tdd.SourceEventIDs, 3)
	assert.Equal(t, "low", tdd.HallucinationRisk)

	// The window is now consolidated.
	remaining, err := s.UnconsolidatedEvents("proj", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestEmptyWindowYieldsEmptyReport(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	report, err := testPipeline(t, s, now).Run(context.Background(), "proj")
	require.NoError(t, err)
	assert.Zero(t, report.EventsProcessed)
	assert.Zero(t, report.ClustersFormed)
	assert.Zero(t, report.PatternsStored)
}

func TestSingleEventClusterSkipped(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.AppendEvent(event("only", "sess-1", now.Add(-time.Hour),
		types.EventAction, types.OutcomeSuccess, "ran formatter", "/repo")))

	report, err := testPipeline(t, s, now).Run(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, report.EventsProcessed)
	assert.Zero(t, report.PatternsStored)

	// Pattern-free or not, the run consumes its window.
	remaining, err := s.UnconsolidatedEvents("proj", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSecondRunOverSameWindowIsEmpty(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	// Mundane cluster: no heuristic fires, nothing gets stored.
	require.NoError(t, s.AppendEvent(event("m1", "sess-1", base,
		types.EventAction, types.OutcomeSuccess, "listed open tickets", "/repo")))
	require.NoError(t, s.AppendEvent(event("m2", "sess-1", base.Add(2*time.Minute),
		types.EventAction, types.OutcomeSuccess, "triaged the backlog", "/repo")))

	p := testPipeline(t, s, now)
	first, err := p.Run(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 2, first.EventsProcessed)
	assert.Zero(t, first.PatternsStored)

	second, err := p.Run(context.Background(), "proj")
	require.NoError(t, err)
	assert.Zero(t, second.EventsProcessed, "a completed run consumes its whole window")
	assert.Zero(t, second.ClustersFormed)
}

type stubEngine struct{ vec []float32 }

func (s *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) { return s.vec, nil }
func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}
func (s *stubEngine) Dimensions() int { return len(s.vec) }
func (s *stubEngine) Name() string    { return "stub" }

func TestStoredPatternsCarryEmbeddings(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	events := []*types.EpisodicEvent{
		event("e1", "sess-1", base, types.EventTestRun, types.OutcomeFailure,
			"go test ./internal/bus: TestDrain fails on shutdown", "/repo/internal/bus"),
		event("e2", "sess-1", base.Add(5*time.Minute), types.EventFileChange, types.OutcomeSuccess,
			"drain pending deliveries before closing the queue", "/repo/internal/bus"),
		event("e3", "sess-1", base.Add(10*time.Minute), types.EventTestRun, types.OutcomeSuccess,
			"go test ./internal/bus: all tests pass", "/repo/internal/bus"),
	}
	for _, e := range events {
		require.NoError(t, s.AppendEvent(e))
	}

	engine := &stubEngine{vec: []float32{0.25, -0.5, 1.0}}
	p := testPipeline(t, s, now, WithEmbedder(engine))
	report, err := p.Run(context.Background(), "proj")
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.PatternsStored, 1)

	patterns, vecs, err := s.PatternsWithEmbeddings("proj", 10)
	require.NoError(t, err)
	require.Len(t, patterns, report.PatternsStored)
	require.Len(t, vecs, report.PatternsStored)
	assert.Equal(t, engine.vec, vecs[0])
}

func TestContextClusteringSplitsSessionsAndGaps(t *testing.T) {
	base := time.Now().UTC().Add(-6 * time.Hour)
	events := []*types.EpisodicEvent{
		event("a1", "s1", base, types.EventAction, types.OutcomeSuccess, "edit", "/repo/a"),
		event("a2", "s1", base.Add(10*time.Minute), types.EventAction, types.OutcomeSuccess, "edit", "/repo/a"),
		// Same session, but three hours later.
		event("a3", "s1", base.Add(3*time.Hour), types.EventAction, types.OutcomeSuccess, "edit", "/repo/a"),
		// Different session entirely.
		event("b1", "s2", base.Add(15*time.Minute), types.EventAction, types.OutcomeSuccess, "edit", "/repo/b"),
	}

	clusters := ClusterEvents(events, "context", 3.5, time.Hour)
	require.Len(t, clusters, 3)
	for _, c := range clusters {
		for _, e := range c.Events {
			assert.Equal(t, c.Events[0].SessionID, e.SessionID)
		}
	}
}

func TestSurpriseClusteringCentersOnSpikes(t *testing.T) {
	base := time.Now().UTC().Add(-2 * time.Hour)
	mk := func(id string, offset time.Duration, surprise float64) *types.EpisodicEvent {
		e := event(id, "s1", base.Add(offset), types.EventAction, types.OutcomeSuccess, "work", "/repo")
		e.Surprise = surprise
		return e
	}
	events := []*types.EpisodicEvent{
		mk("quiet1", 0, 0.5),
		mk("spike1", 10*time.Minute, 4.0),
		mk("quiet2", 12*time.Minute, 0.2),
		mk("spike2", 90*time.Minute, 5.0),
		mk("quiet3", 95*time.Minute, 0.1),
	}

	clusters := ClusterEvents(events, "surprise", 3.5, time.Hour)
	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0].Events, 3)
	assert.Len(t, clusters[1].Events, 2)
}

func TestGroundingRejectsFabricatedEvidence(t *testing.T) {
	base := time.Now().UTC()
	c := &Cluster{Events: []*types.EpisodicEvent{
		event("e1", "s1", base, types.EventFileChange, types.OutcomeSuccess,
			"renamed the queue flush helper", "/repo"),
		event("e2", "s1", base.Add(time.Minute), types.EventTestRun, types.OutcomeSuccess,
			"queue tests pass", "/repo"),
	}}
	c.Cohesion = 1

	grounded := Candidate{
		Description: "Queue helper rename kept tests green",
		Type:        types.PatternWorkflow,
		Confidence:  0.9,
		Evidence:    []string{"renamed the queue flush helper", "queue tests pass"},
		Source:      "system2",
	}
	fabricated := Candidate{
		Description: "Database migrations were rewritten in-place",
		Type:        types.PatternFact,
		Confidence:  0.9,
		Evidence:    []string{"dropped the customers table and rebuilt indexes overnight"},
		Source:      "system2",
	}

	out := ValidateCandidates(c, []Candidate{grounded, fabricated})
	require.Len(t, out, 1)
	assert.Equal(t, grounded.Description, out[0].Description)
	assert.Equal(t, 1.0, out[0].GroundingScore)
	assert.Equal(t, "low", out[0].HallucinationRisk)
}

func TestConflictResolutionRules(t *testing.T) {
	mk := func(source string, conf float64, tags ...string) Validated {
		return Validated{Candidate: Candidate{
			Description: "failing test then fix then pass",
			Confidence:  conf,
			Tags:        tags,
			Source:      source,
		}}
	}

	t.Run("large confidence gap picks the higher side", func(t *testing.T) {
		out := ResolveConflicts([]Validated{mk("system1", 0.9, "tdd"), mk("system2", 0.5, "tdd")})
		require.Len(t, out, 1)
		assert.Equal(t, "system1", out[0].Source)
	})

	t.Run("high tag overlap merges", func(t *testing.T) {
		out := ResolveConflicts([]Validated{
			mk("system1", 0.8, "tdd", "testing"),
			mk("system2", 0.7, "tdd", "testing"),
		})
		require.Len(t, out, 1)
		assert.Equal(t, "merged", out[0].Source)
		assert.InDelta(t, 0.75, out[0].Confidence, 1e-9)
		assert.ElementsMatch(t, []string{"tdd", "testing"}, out[0].Tags)
	})

	t.Run("low overlap defers at neutral confidence", func(t *testing.T) {
		out := ResolveConflicts([]Validated{
			mk("system1", 0.7, "tdd"),
			mk("system2", 0.65, "architecture", "migration"),
		})
		require.Len(t, out, 1)
		assert.Equal(t, "deferred", out[0].Source)
		assert.Equal(t, 0.5, out[0].Confidence)
	})

	t.Run("middling overlap lets system2 win", func(t *testing.T) {
		out := ResolveConflicts([]Validated{
			mk("system1", 0.7, "tdd", "testing"),
			mk("system2", 0.72, "tdd", "refactoring"),
		})
		require.Len(t, out, 1)
		assert.Equal(t, "system2", out[0].Source)
	})
}

func TestSystem2ParseAndFences(t *testing.T) {
	raw := "```json\n{\"patterns\": [{\"description\": \"retry with backoff fixed the flake\", " +
		"\"type\": \"fact\", \"confidence\": 1.4, \"tags\": [\"retry\"], " +
		"\"evidence\": [\"second attempt passed\"]}]}\n```"
	cands, err := parseSystem2(raw, 5)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, types.PatternFact, cands[0].Type)
	assert.Equal(t, 1.0, cands[0].Confidence, "confidence clamps to [0,1]")

	_, err = parseSystem2("not json at all", 5)
	assert.Error(t, err)
}

func TestGraphSynthesisFrequencyFloor(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	mk := func(id string, offset time.Duration, files ...string) *types.EpisodicEvent {
		e := event(id, "s1", base.Add(offset), types.EventFileChange, types.OutcomeSuccess, "edit", "/repo")
		e.Context.Files = files
		return e
	}
	events := []*types.EpisodicEvent{
		mk("g1", 0, "a.go", "b.go"),
		mk("g2", 5*time.Minute, "a.go", "b.go"),
		// Seen only once, below the frequency floor.
		mk("g3", 10*time.Minute, "a.go", "c.go"),
	}

	ents, rels, err := NewGraphSynthesizer(s).Synthesize("proj", events, now)
	require.NoError(t, err)
	assert.Equal(t, 3, ents)
	assert.Equal(t, 1, rels)

	count, err := s.RelationCount("proj")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
