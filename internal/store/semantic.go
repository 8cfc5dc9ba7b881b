package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/types"
)

const patternColumns = `id, project, description, pattern_type, confidence,
	tags, evidence, source_event_ids, grounding_score, hallucination_risk,
	source, created_at`

// StorePattern persists a consolidated pattern.
func (s *Local) StorePattern(p *types.SemanticPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`INSERT INTO semantic_memories
		(id, project, description, pattern_type, confidence, tags, evidence,
		 source_event_ids, grounding_score, hallucination_risk, source, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, nullStr(p.Project), p.Description, string(p.Type), p.Confidence,
		marshalJSON(p.Tags), marshalJSON(p.Evidence),
		marshalJSON(p.SourceEventIDs), p.GroundingScore,
		nullStr(p.HallucinationRisk), nullStr(p.Source), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store pattern: %w", err)
	}
	return nil
}

// EncodeVector serializes a float32 vector as little-endian bytes, the
// layout sqlite-vec expects.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// SetPatternEmbedding attaches an embedding vector to a stored pattern.
func (s *Local) SetPatternEmbedding(id string, embedding []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE semantic_memories SET embedding = ? WHERE id = ?`,
		embedding, id)
	if err != nil {
		return err
	}
	return existsGuard(res)
}

// PatternsWithEmbeddings returns the newest embedded patterns for a project
// alongside their decoded vectors, for in-memory similarity ranking.
func (s *Local) PatternsWithEmbeddings(project string, limit int) ([]*types.SemanticPattern, [][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`SELECT `+patternColumns+`, embedding FROM semantic_memories
		WHERE (project = ? OR (? = '' AND project IS NULL)) AND embedding IS NOT NULL
		ORDER BY created_at DESC LIMIT ?`, project, project, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		patterns []*types.SemanticPattern
		vectors  [][]float32
	)
	for rows.Next() {
		p, blob, err := scanPatternWithEmbedding(rows)
		if err != nil {
			return nil, nil, err
		}
		patterns = append(patterns, p)
		vectors = append(vectors, DecodeVector(blob))
	}
	return patterns, vectors, rows.Err()
}

// ListPatterns returns the newest patterns for a project.
func (s *Local) ListPatterns(project string, limit int) ([]*types.SemanticPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+patternColumns+` FROM semantic_memories
		WHERE project = ? OR (? = '' AND project IS NULL)
		ORDER BY created_at DESC LIMIT ?`, project, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// SearchPatterns matches description and tags against the query terms.
// ANN search over embeddings belongs to the retrieval layer; this is the
// lexical path that works without the vec extension.
func (s *Local) SearchPatterns(project, query string, limit int) ([]*types.SemanticPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var (
		conds []string
		args  []any
	)
	args = append(args, project, project)
	for _, term := range terms {
		conds = append(conds, "(LOWER(description) LIKE ? OR LOWER(tags) LIKE ?)")
		like := "%" + term + "%"
		args = append(args, like, like)
	}
	args = append(args, limit)

	rows, err := s.db.Query(`SELECT `+patternColumns+` FROM semantic_memories
		WHERE (project = ? OR (? = '' AND project IS NULL))
		  AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY confidence DESC, created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func scanPattern(row rowScanner) (*types.SemanticPattern, error) {
	var (
		p                    types.SemanticPattern
		project, risk, src   sql.NullString
		ptype                string
		tags, evidence, srcs sql.NullString
	)
	err := row.Scan(&p.ID, &project, &p.Description, &ptype, &p.Confidence,
		&tags, &evidence, &srcs, &p.GroundingScore, &risk, &src, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Project = project.String
	p.Type = types.PatternType(ptype)
	p.HallucinationRisk = risk.String
	p.Source = src.String
	unmarshalJSON(tags.String, &p.Tags)
	unmarshalJSON(evidence.String, &p.Evidence)
	unmarshalJSON(srcs.String, &p.SourceEventIDs)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func scanPatternWithEmbedding(rows *sql.Rows) (*types.SemanticPattern, []byte, error) {
	var (
		p                    types.SemanticPattern
		project, risk, src   sql.NullString
		ptype                string
		tags, evidence, srcs sql.NullString
		blob                 []byte
	)
	err := rows.Scan(&p.ID, &project, &p.Description, &ptype, &p.Confidence,
		&tags, &evidence, &srcs, &p.GroundingScore, &risk, &src, &p.CreatedAt, &blob)
	if err != nil {
		return nil, nil, err
	}
	p.Project = project.String
	p.Type = types.PatternType(ptype)
	p.HallucinationRisk = risk.String
	p.Source = src.String
	unmarshalJSON(tags.String, &p.Tags)
	unmarshalJSON(evidence.String, &p.Evidence)
	unmarshalJSON(srcs.String, &p.SourceEventIDs)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, blob, nil
}

func scanPatterns(rows *sql.Rows) ([]*types.SemanticPattern, error) {
	var out []*types.SemanticPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
