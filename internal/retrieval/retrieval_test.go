package retrieval

import (
	"context"
	"errors"
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

func storePattern(t *testing.T, s *store.Local, id, desc string, vec []float32) {
	t.Helper()
	require.NoError(t, s.StorePattern(&types.SemanticPattern{
		ID:          id,
		Project:     "proj",
		Description: desc,
		Type:        types.PatternWorkflow,
		Confidence:  0.8,
		Tags:        []string{"recall"},
		Source:      "system1",
		CreatedAt:   time.Now().UTC(),
	}))
	if vec != nil {
		require.NoError(t, s.SetPatternEmbedding(id, store.EncodeVector(vec)))
	}
}

type fixedEngine struct {
	vec []float32
	err error
}

func (f *fixedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}
func (f *fixedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}
func (f *fixedEngine) Dimensions() int { return len(f.vec) }
func (f *fixedEngine) Name() string    { return "fixed" }

func TestVectorSearchRanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	storePattern(t, s, "near", "failing test then fix then pass", []float32{1, 0, 0})
	storePattern(t, s, "mid", "retry transient errors with backoff", []float32{0.7, 0.7, 0})
	storePattern(t, s, "far", "split the migration into two steps", []float32{0, 0, 1})

	r := NewRetriever(s, &fixedEngine{vec: []float32{1, 0, 0}})
	hits, err := r.Search(context.Background(), "proj", "red green refactor", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "near", hits[0].Pattern.ID)
	assert.Equal(t, "mid", hits[1].Pattern.ID)
	assert.Equal(t, "vector", hits[0].Source)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestEngineFailureFallsBackToLexical(t *testing.T) {
	s := newTestStore(t)
	storePattern(t, s, "p1", "failing test then fix then pass", []float32{1, 0, 0})

	r := NewRetriever(s, &fixedEngine{err: errors.New("endpoint down")})
	hits, err := r.Search(context.Background(), "proj", "failing test", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].Pattern.ID)
	assert.Equal(t, "lexical", hits[0].Source)
}

func TestNoEngineUsesLexicalSearch(t *testing.T) {
	s := newTestStore(t)
	storePattern(t, s, "p1", "drain pending deliveries before closing", nil)

	r := NewRetriever(s, nil)
	hits, err := r.Search(context.Background(), "proj", "pending deliveries", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "lexical", hits[0].Source)
}

func TestNoEmbeddedPatternsFallsBackToLexical(t *testing.T) {
	s := newTestStore(t)
	storePattern(t, s, "p1", "cache invalidation follows every write", nil)

	r := NewRetriever(s, &fixedEngine{vec: []float32{1, 0, 0}})
	hits, err := r.Search(context.Background(), "proj", "cache invalidation", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "lexical", hits[0].Source)
}
