package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

const taskColumns = `id, title, description, status, priority, assigned_agent,
	progress, blocked_by, retry_count, claimed_at, depends_on, deadline,
	estimated_hours, tags, parent_id, version, result,
	last_error, attempts, created_at, updated_at`

// CreateTask inserts a new pending task.
func (s *Local) CreateTask(t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if t.Priority == "" {
		t.Priority = types.PriorityMedium
	}

	_, err := s.db.Exec(`INSERT INTO tasks
		(id, title, description, status, priority, assigned_agent, progress,
		 blocked_by, retry_count, claimed_at, depends_on, deadline,
		 estimated_hours, tags, required_caps, parent_id, version, result,
		 last_error, attempts, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		nullStr(t.AssignedAgent), t.Progress, nullStr(t.BlockedBy), t.RetryCount,
		nullTime(t.ClaimedAt), marshalJSON(t.DependsOn), nullTime(t.Deadline),
		t.EstimatedHours, marshalJSON(t.Tags), marshalJSON(taskCaps(t)),
		nullStr(t.ParentID), t.Version, marshalJSON(t.Result),
		nullStr(t.LastError), marshalJSON(t.Attempts), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	logging.StoreDebug("task created: %s (%s)", t.ID, t.Title)
	return nil
}

// taskCaps derives required capabilities from "cap:" tags so callers only
// manage one tag list.
func taskCaps(t *types.Task) []string {
	var caps []string
	for _, tag := range t.Tags {
		if strings.HasPrefix(tag, "cap:") {
			caps = append(caps, strings.TrimPrefix(tag, "cap:"))
		}
	}
	return caps
}

// GetTask fetches a task by id.
func (s *Local) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasksByParent returns all subtasks of a parent, oldest first.
func (s *Local) ListTasksByParent(parentID string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE parent_id = ? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListRecentTasks returns the newest tasks across all parents.
func (s *Local) ListRecentTasks(limit int) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FindAvailable returns pending, unassigned, dependency-complete tasks whose
// required capabilities are covered by caps. Ordering: priority desc,
// deadline asc (nulls last), creation asc.
func (s *Local) FindAvailable(agentType types.AgentType, caps []string, limit int) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	// Dependency completeness: no dependency id outside the completed set.
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks t
		WHERE t.status = 'pending' AND t.assigned_agent IS NULL
		ORDER BY CASE t.priority
			WHEN 'critical' THEN 4 WHEN 'high' THEN 3
			WHEN 'medium' THEN 2 ELSE 1 END DESC,
			t.deadline IS NULL, t.deadline ASC, t.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	capSet := make(map[string]bool, len(caps))
	for _, c := range caps {
		capSet[c] = true
	}

	var out []*types.Task
	for _, t := range candidates {
		if !s.depsCompleted(t) {
			continue
		}
		if !typeMatches(t, agentType) {
			continue
		}
		if !capsCovered(taskCaps(t), capSet) {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// depsCompleted reports whether every dependency is completed.
// Caller holds at least a read lock.
func (s *Local) depsCompleted(t *types.Task) bool {
	for _, dep := range t.DependsOn {
		var status string
		err := s.db.QueryRow(`SELECT status FROM tasks WHERE id = ?`, dep).Scan(&status)
		if err != nil || types.TaskStatus(status) != types.TaskCompleted {
			return false
		}
	}
	return true
}

// typeMatches checks the task's "type:" tag against the agent type.
// Untyped tasks match any agent.
func typeMatches(t *types.Task, agentType types.AgentType) bool {
	for _, tag := range t.Tags {
		if strings.HasPrefix(tag, "type:") {
			return strings.TrimPrefix(tag, "type:") == string(agentType)
		}
	}
	return true
}

func capsCovered(required []string, have map[string]bool) bool {
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// ClaimTask is the atomic compare-and-swap: pending/unassigned/version=v
// becomes in-progress/assigned/version=v+1. Returns false when another agent
// won the race (claim-lost is silent by design of the worker loop).
func (s *Local) ClaimTask(agentID, taskID string, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE tasks
		SET status = 'in_progress', assigned_agent = ?, claimed_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'pending' AND assigned_agent IS NULL AND version = ?`,
		agentID, now, now, taskID, version)
	if err != nil {
		return false, fmt.Errorf("claim failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		logging.StoreDebug("task %s claimed by %s (v%d -> v%d)", taskID, agentID, version, version+1)
		return true, nil
	}
	return false, nil
}

// UpdateProgress sets progress for a task owned by agentID.
func (s *Local) UpdateProgress(agentID, taskID string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE tasks SET progress = ?, updated_at = ?
		WHERE id = ? AND assigned_agent = ? AND status = 'in_progress'`,
		progress, time.Now().UTC(), taskID, agentID)
	if err != nil {
		return err
	}
	return ownerGuard(res)
}

// CompleteTask transitions an owned in-progress task to completed.
func (s *Local) CompleteTask(agentID, taskID string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE tasks
		SET status = 'completed', progress = 100, result = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND assigned_agent = ? AND status = 'in_progress'`,
		marshalJSON(result), time.Now().UTC(), taskID, agentID)
	if err != nil {
		return err
	}
	return ownerGuard(res)
}

// FailTask transitions an owned in-progress task to failed, recording the
// attempt in the attempts history.
func (s *Local) FailTask(agentID, taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(taskID, reason, agentID)
}

// ForceFail fails a task regardless of owner and clears the assignment so
// retry can reassign it. Reserved for the health monitor.
func (s *Local) ForceFail(taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(taskID, reason, "")
}

func (s *Local) failLocked(taskID, reason, requiredOwner string) error {
	t, err := s.getTaskLocked(taskID)
	if err != nil {
		return err
	}
	if requiredOwner != "" && t.AssignedAgent != requiredOwner {
		return ErrNotOwner
	}

	attempts := append(t.Attempts, types.TaskAttempt{
		Number:    len(t.Attempts) + 1,
		Outcome:   string(types.OutcomeFailure),
		Timestamp: time.Now().UTC(),
		Error:     reason,
	})

	_, err = s.db.Exec(`UPDATE tasks
		SET status = 'failed', assigned_agent = NULL, last_error = ?,
		    attempts = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		reason, marshalJSON(attempts), time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	logging.StoreDebug("task %s failed: %s", taskID, reason)
	return nil
}

// ResetForRetry returns a failed task to pending with a version bump and an
// incremented structured retry counter.
func (s *Local) ResetForRetry(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE tasks
		SET status = 'pending', assigned_agent = NULL, claimed_at = NULL,
		    progress = 0, retry_count = retry_count + 1,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	logging.StoreDebug("task %s reset for retry", taskID)
	return nil
}

// DetectStuck returns in-progress tasks claimed longer ago than threshold
// with progress below 100.
func (s *Local) DetectStuck(threshold time.Duration) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE status = 'in_progress' AND claimed_at IS NOT NULL
		  AND claimed_at < ? AND progress < 100`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DetectRetryable returns failed tasks with retry_count below the policy max.
func (s *Local) DetectRetryable(maxRetries int) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE status = 'failed' AND retry_count < ?`, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FailTasksOfAgent force-fails every in-progress task held by an agent.
// Used by the health monitor when an agent goes offline.
func (s *Local) FailTasksOfAgent(agentID, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id FROM tasks
		WHERE assigned_agent = ? AND status = 'in_progress'`, agentID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.failLocked(id, reason, ""); err != nil {
			logging.Get(logging.CategoryStore).Warn("force-fail %s: %v", id, err)
		}
	}
	return ids, nil
}

// getTaskLocked fetches without taking the lock; callers hold it.
func (s *Local) getTaskLocked(id string) (*types.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func ownerGuard(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// --- row scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t                             types.Task
		status, priority              string
		assigned, blockedBy, parentID sql.NullString
		lastError                     sql.NullString
		claimedAt, deadline           sql.NullTime
		dependsOn, tags               sql.NullString
		result, attempts              sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		&assigned, &t.Progress, &blockedBy, &t.RetryCount, &claimedAt,
		&dependsOn, &deadline, &t.EstimatedHours, &tags, &parentID,
		&t.Version, &result, &lastError, &attempts, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Status = types.TaskStatus(status)
	t.Priority = types.TaskPriority(priority)
	t.AssignedAgent = assigned.String
	t.BlockedBy = blockedBy.String
	t.ParentID = parentID.String
	t.LastError = lastError.String
	if claimedAt.Valid {
		ts := claimedAt.Time.UTC()
		t.ClaimedAt = &ts
	}
	if deadline.Valid {
		ts := deadline.Time.UTC()
		t.Deadline = &ts
	}
	unmarshalJSON(dependsOn.String, &t.DependsOn)
	unmarshalJSON(tags.String, &t.Tags)
	unmarshalJSON(result.String, &t.Result)
	unmarshalJSON(attempts.String, &t.Attempts)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- small codec helpers shared across store files ---

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
