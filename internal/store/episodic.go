package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

const eventColumns = `id, project, session_id, timestamp, event_type, content,
	outcome, surprise, importance, context, consolidation_status`

// AppendEvent writes one event to the append-only log. Events are never
// updated after this except to flip the consolidation flag.
func (s *Local) AppendEvent(e *types.EpisodicEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(`INSERT INTO episodic_events
		(id, project, session_id, timestamp, event_type, content, outcome,
		 surprise, importance, context, consolidation_status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullStr(e.Project), e.SessionID, e.Timestamp, string(e.Type),
		e.Content, string(e.Outcome), e.Surprise, e.Importance,
		marshalJSON(e.Context), consolidationFlag(e.Consolidated))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func consolidationFlag(consolidated bool) string {
	if consolidated {
		return "consolidated"
	}
	return "unconsolidated"
}

// UnconsolidatedEvents returns events in [since, until) awaiting
// consolidation, oldest first.
func (s *Local) UnconsolidatedEvents(project string, since, until time.Time) ([]*types.EpisodicEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM episodic_events
		WHERE consolidation_status = 'unconsolidated'
		  AND (project = ? OR (? = '' AND project IS NULL))
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		project, project, since.UTC(), until.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkConsolidated flips the consolidation flag for the given events.
// Idempotent: already-consolidated ids are no-ops.
func (s *Local) MarkConsolidated(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE episodic_events
			SET consolidation_status = 'consolidated' WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.StoreDebug("marked %d events consolidated", len(ids))
	return nil
}

// LatestCheckpoint returns the most recent checkpoint event whose context
// references the parent task, or ErrNotFound.
func (s *Local) LatestCheckpoint(parentTaskID string) (*types.EpisodicEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM episodic_events
		WHERE event_type = 'checkpoint'
		  AND json_extract(context, '$.task_id') = ?
		ORDER BY timestamp DESC LIMIT 1`, parentTaskID)
	return scanEvent(row)
}

// EventsBySession returns a session's events oldest first, capped at limit.
func (s *Local) EventsBySession(sessionID string, limit int) ([]*types.EpisodicEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM episodic_events
		WHERE session_id = ? ORDER BY timestamp ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvent(row rowScanner) (*types.EpisodicEvent, error) {
	var (
		e              types.EpisodicEvent
		project        sql.NullString
		etype, outcome string
		ctx, status    sql.NullString
	)
	err := row.Scan(&e.ID, &project, &e.SessionID, &e.Timestamp, &etype,
		&e.Content, &outcome, &e.Surprise, &e.Importance, &ctx, &status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Project = project.String
	e.Type = types.EventType(etype)
	e.Outcome = types.Outcome(outcome)
	e.Consolidated = status.String == "consolidated"
	unmarshalJSON(ctx.String, &e.Context)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*types.EpisodicEvent, error) {
	var out []*types.EpisodicEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
