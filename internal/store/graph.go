package store

import (
	"time"
)

// UpsertEntity inserts an entity or bumps its frequency.
func (s *Local) UpsertEntity(project, name, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO kg_entities
		(project, name, kind, frequency, created_at, updated_at)
		VALUES (?,?,?,1,?,?)
		ON CONFLICT(project, name) DO UPDATE SET
			frequency = frequency + 1,
			kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE kind END,
			updated_at = excluded.updated_at`,
		project, name, kind, now, now)
	return err
}

// UpsertRelation inserts a relation or reinforces its weight.
func (s *Local) UpsertRelation(project, from, relation, to string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO kg_relations
		(project, entity_a, relation, entity_b, weight, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(project, entity_a, relation, entity_b) DO UPDATE SET
			weight = weight + excluded.weight,
			updated_at = excluded.updated_at`,
		project, from, relation, to, weight, now, now)
	return err
}

// EntityCount returns the number of entities known for a project.
func (s *Local) EntityCount(project string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM kg_entities WHERE project = ?`,
		project).Scan(&n)
	return n, err
}

// RelationCount returns the number of relations known for a project.
func (s *Local) RelationCount(project string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM kg_relations WHERE project = ?`,
		project).Scan(&n)
	return n, err
}

// RelationsFrom lists outgoing relations of an entity, strongest first.
func (s *Local) RelationsFrom(project, entity string, limit int) ([]GraphRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT entity_a, relation, entity_b, weight
		FROM kg_relations WHERE project = ? AND entity_a = ?
		ORDER BY weight DESC LIMIT ?`, project, entity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GraphRelation
	for rows.Next() {
		var r GraphRelation
		if err := rows.Scan(&r.From, &r.Relation, &r.To, &r.Weight); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GraphRelation is one weighted edge in the knowledge graph.
type GraphRelation struct {
	From     string  `json:"from"`
	Relation string  `json:"relation"`
	To       string  `json:"to"`
	Weight   float64 `json:"weight"`
}
