// Package retrieval recalls semantic patterns by meaning. Queries are
// embedded and ranked against stored pattern vectors; when no engine or no
// vectors are available it degrades to lexical search over descriptions and
// tags.
package retrieval

import (
	"context"

	"hivemind/internal/embedding"
	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// corpusLimit caps how many embedded patterns one query ranks over.
const corpusLimit = 200

// PatternSource is the slice of the store the retriever reads.
type PatternSource interface {
	PatternsWithEmbeddings(project string, limit int) ([]*types.SemanticPattern, [][]float32, error)
	SearchPatterns(project, query string, limit int) ([]*types.SemanticPattern, error)
}

var _ PatternSource = (*store.Local)(nil)

// Hit is one recalled pattern with its relevance to the query.
type Hit struct {
	Pattern *types.SemanticPattern
	Score   float64
	Source  string // "vector" or "lexical"
}

// Retriever answers recall queries over the semantic store.
type Retriever struct {
	source PatternSource
	engine embedding.Engine // nil means lexical-only
	log    *logging.Logger
}

func NewRetriever(source PatternSource, engine embedding.Engine) *Retriever {
	return &Retriever{
		source: source,
		engine: engine,
		log:    logging.Get(logging.CategoryEmbedding),
	}
}

// Search returns up to k patterns relevant to the query, best first.
// Vector ranking is used when an engine is attached and embedded patterns
// exist; otherwise the lexical path answers.
func (r *Retriever) Search(ctx context.Context, project, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	if r.engine != nil {
		hits, err := r.vectorSearch(ctx, project, query, k)
		if err != nil {
			r.log.Warn("vector recall failed, falling back to lexical: %v", err)
		} else if len(hits) > 0 {
			return hits, nil
		}
	}
	return r.lexicalSearch(project, query, k)
}

func (r *Retriever) vectorSearch(ctx context.Context, project, query string, k int) ([]Hit, error) {
	qvec, err := r.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	patterns, vecs, err := r.source.PatternsWithEmbeddings(project, corpusLimit)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	ranked := embedding.FindTopK(qvec, vecs, k)
	hits := make([]Hit, 0, len(ranked))
	for _, res := range ranked {
		hits = append(hits, Hit{
			Pattern: patterns[res.Index],
			Score:   res.Similarity,
			Source:  "vector",
		})
	}
	return hits, nil
}

func (r *Retriever) lexicalSearch(project, query string, k int) ([]Hit, error) {
	patterns, err := r.source.SearchPatterns(project, query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(patterns))
	for _, p := range patterns {
		// Lexical hits carry the pattern's own confidence as the score.
		hits = append(hits, Hit{Pattern: p, Score: p.Confidence, Source: "lexical"})
	}
	return hits, nil
}
