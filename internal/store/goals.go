package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

const goalColumns = `id, project, text, goal_type, priority, status, progress,
	estimated_hours, actual_hours, deadline, parent_id, created_at, updated_at`

// CreateGoal inserts a new goal.
func (s *Local) CreateGoal(g *types.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = types.GoalActive
	}

	_, err := s.db.Exec(`INSERT INTO goals
		(id, project, text, goal_type, priority, status, progress,
		 estimated_hours, actual_hours, deadline, parent_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Project, g.Text, string(g.Type), g.Priority, string(g.Status),
		g.Progress, g.EstimatedHours, g.ActualHours, nullTime(g.Deadline),
		nullStr(g.ParentID), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create goal: %w", err)
	}
	logging.StoreDebug("goal created: %s", g.ID)
	return nil
}

// GetGoal fetches a goal by id.
func (s *Local) GetGoal(id string) (*types.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	return scanGoal(row)
}

// UpdateGoal rewrites the mutable fields of a goal.
func (s *Local) UpdateGoal(g *types.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`UPDATE goals
		SET text = ?, goal_type = ?, priority = ?, status = ?, progress = ?,
		    estimated_hours = ?, actual_hours = ?, deadline = ?, updated_at = ?
		WHERE id = ?`,
		g.Text, string(g.Type), g.Priority, string(g.Status), g.Progress,
		g.EstimatedHours, g.ActualHours, nullTime(g.Deadline), g.UpdatedAt, g.ID)
	if err != nil {
		return err
	}
	return existsGuard(res)
}

// ListGoals returns a project's goals filtered by status (all statuses when
// none given), highest priority first.
func (s *Local) ListGoals(project string, statuses ...types.GoalStatus) ([]*types.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + goalColumns + ` FROM goals WHERE project = ?`
	args := []any{project}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGoals(rows)
}

// ListSubgoals returns the direct children of a goal.
func (s *Local) ListSubgoals(parentID string) ([]*types.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+goalColumns+` FROM goals
		WHERE parent_id = ? ORDER BY priority DESC, created_at ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGoals(rows)
}

func scanGoal(row rowScanner) (*types.Goal, error) {
	var (
		g           types.Goal
		gtype, stat string
		deadline    sql.NullTime
		parentID    sql.NullString
	)
	err := row.Scan(&g.ID, &g.Project, &g.Text, &gtype, &g.Priority, &stat,
		&g.Progress, &g.EstimatedHours, &g.ActualHours, &deadline, &parentID,
		&g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Type = types.GoalType(gtype)
	g.Status = types.GoalStatus(stat)
	g.ParentID = parentID.String
	if deadline.Valid {
		ts := deadline.Time.UTC()
		g.Deadline = &ts
	}
	return &g, nil
}

func scanGoals(rows *sql.Rows) ([]*types.Goal, error) {
	var out []*types.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGoal removes a goal and its milestones.
func (s *Local) DeleteGoal(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM milestones WHERE goal_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM goals WHERE id = ?`, id)
	return err
}

// RecordSwitch appends a task-switch record.
func (s *Local) RecordSwitch(sw *types.TaskSwitch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sw.ID == "" {
		sw.ID = uuid.New().String()
	}
	if sw.SwitchedAt.IsZero() {
		sw.SwitchedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`INSERT INTO task_switches
		(id, project, from_goal_id, to_goal_id, cost_ms, reason, context, switched_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		sw.ID, sw.Project, nullStr(sw.FromGoalID), sw.ToGoalID, sw.CostMillis,
		nullStr(sw.Reason), marshalJSON(sw.Context), sw.SwitchedAt)
	return err
}

// ListSwitches returns the most recent switches, newest first.
func (s *Local) ListSwitches(project string, limit int) ([]*types.TaskSwitch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, project, from_goal_id, to_goal_id,
		cost_ms, reason, context, switched_at
		FROM task_switches WHERE project = ?
		ORDER BY switched_at DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.TaskSwitch
	for rows.Next() {
		var (
			sw           types.TaskSwitch
			from, reason sql.NullString
			ctx          sql.NullString
		)
		if err := rows.Scan(&sw.ID, &sw.Project, &from, &sw.ToGoalID,
			&sw.CostMillis, &reason, &ctx, &sw.SwitchedAt); err != nil {
			return nil, err
		}
		sw.FromGoalID = from.String
		sw.Reason = reason.String
		unmarshalJSON(ctx.String, &sw.Context)
		out = append(out, &sw)
	}
	return out, rows.Err()
}

// SaveMilestones replaces a goal's milestone set.
func (s *Local) SaveMilestones(goalID string, ms []types.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM milestones WHERE goal_id = ?`, goalID); err != nil {
		tx.Rollback()
		return err
	}
	for i := range ms {
		m := &ms[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.GoalID = goalID
		if _, err := tx.Exec(`INSERT INTO milestones
			(id, goal_id, description, target_pct, reached, reached_at)
			VALUES (?,?,?,?,?,?)`,
			m.ID, m.GoalID, m.Description, m.TargetPct, m.Reached,
			nullTime(m.ReachedAt)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListMilestones returns a goal's milestones in progress order.
func (s *Local) ListMilestones(goalID string) ([]types.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, goal_id, description, target_pct,
		reached, reached_at FROM milestones WHERE goal_id = ?
		ORDER BY target_pct ASC`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Milestone
	for rows.Next() {
		var (
			m  types.Milestone
			at sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.GoalID, &m.Description, &m.TargetPct,
			&m.Reached, &at); err != nil {
			return nil, err
		}
		if at.Valid {
			ts := at.Time.UTC()
			m.ReachedAt = &ts
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordStrategyOutcome updates the per-strategy attempt/success counters.
func (s *Local) RecordStrategyOutcome(strategy types.Strategy, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	win := 0
	if success {
		win = 1
	}
	_, err := s.db.Exec(`INSERT INTO strategy_outcomes
		(strategy, attempts, successes, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(strategy) DO UPDATE SET
			attempts = attempts + 1,
			successes = successes + excluded.successes,
			updated_at = excluded.updated_at`,
		string(strategy), win, time.Now().UTC())
	return err
}

// StrategySuccessRates returns the observed success rate per strategy.
// Strategies with no history are absent from the map.
func (s *Local) StrategySuccessRates() (map[types.Strategy]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT strategy, attempts, successes
		FROM strategy_outcomes WHERE attempts > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make(map[types.Strategy]float64)
	for rows.Next() {
		var (
			name                string
			attempts, successes int
		)
		if err := rows.Scan(&name, &attempts, &successes); err != nil {
			return nil, err
		}
		rates[types.Strategy(name)] = float64(successes) / float64(attempts)
	}
	return rates, rows.Err()
}

// RecordConsolidationRun persists a consolidation report for auditing.
func (s *Local) RecordConsolidationRun(r *types.ConsolidationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	_, err := s.db.Exec(`INSERT INTO consolidation_runs
		(run_id, project, events_processed, clusters_formed, patterns_extracted,
		 patterns_stored, patterns_rejected, patterns_deferred, quality_before,
		 quality_after, system2_calls, duration_ms, started_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Project, r.EventsProcessed, r.ClustersFormed,
		r.PatternsExtracted, r.PatternsStored, r.PatternsRejected,
		r.PatternsDeferred, r.QualityBefore, r.QualityAfter, r.System2Calls,
		r.Duration.Milliseconds(), r.StartedAt)
	return err
}
