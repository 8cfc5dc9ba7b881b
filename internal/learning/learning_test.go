package learning

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestSuccessRatesByWorkerAndDomain(t *testing.T) {
	s := newTestStore(t)
	tr := NewTracker(s, s)

	tr.RecordExecution("agent-1", "executor", true, 0.9, time.Minute)
	tr.RecordExecution("agent-1", "executor", false, 0.4, time.Minute)
	tr.RecordExecution("agent-2", "executor", true, 0.8, 30*time.Second)
	tr.RecordExecution("agent-2", "research", true, 0.7, 2*time.Minute)

	rate, ok := tr.WorkerSuccessRate("agent-1")
	require.True(t, ok)
	assert.InDelta(t, 0.5, rate, 1e-9)

	rate, ok = tr.WorkerSuccessRate("agent-2")
	require.True(t, ok)
	assert.InDelta(t, 1.0, rate, 1e-9)

	rate, ok = tr.DomainSuccessRate("executor")
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)

	_, ok = tr.WorkerSuccessRate("unknown")
	assert.False(t, ok)
}

func TestFlushWritesProceduralAndMetaEntries(t *testing.T) {
	s := newTestStore(t)
	tr := NewTracker(s, s)

	// executor: 4/6 succeed; research: stays below the flush floor.
	for i := 0; i < 6; i++ {
		tr.RecordExecution("agent-1", "executor", i < 4, 0.8, time.Minute)
	}
	tr.RecordExecution("agent-2", "research", true, 0.9, time.Minute)

	n, err := tr.Flush("proj")
	require.NoError(t, err)
	assert.Equal(t, 2, n) // one procedural + one meta

	patterns, err := s.SearchPatterns("proj", "procedural", 10)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Contains(t, patterns[0].Description, "executor")
	assert.Contains(t, patterns[0].Description, "67%")
	assert.Equal(t, "learning", patterns[0].Source)
	assert.InDelta(t, 0.8, patterns[0].Confidence, 1e-9) // 0.5 + 0.05*6

	meta, err := s.SearchPatterns("proj", "weakest", 10)
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Contains(t, meta[0].Description, "weakest domain is executor")
	assert.Contains(t, meta[0].Tags, "meta")

	// Domain counters reset; worker history survives for routing decisions.
	n, err = tr.Flush("proj")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok := tr.WorkerSuccessRate("agent-1")
	assert.True(t, ok)
}

func TestStrategyOutcomeFeedsSelectorHistory(t *testing.T) {
	s := newTestStore(t)
	tr := NewTracker(s, s)

	require.NoError(t, tr.RecordStrategyOutcome(types.StrategySpike, true))
	require.NoError(t, tr.RecordStrategyOutcome(types.StrategySpike, true))
	require.NoError(t, tr.RecordStrategyOutcome(types.StrategySpike, false))

	rates, err := s.StrategySuccessRates()
	require.NoError(t, err)
	rate, ok := rates[types.StrategySpike]
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)
}
