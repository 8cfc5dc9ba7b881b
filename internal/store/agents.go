package store

import (
	"database/sql"
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

const agentColumns = `id, type, capabilities, status, current_task_id,
	last_heartbeat, restart_count, metrics, registered_at`

// UpsertAgent inserts or refreshes an agent registration.
func (s *Local) UpsertAgent(a *types.AgentInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = now
	}
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = now
	}
	if a.Status == "" {
		a.Status = types.AgentIdle
	}

	_, err := s.db.Exec(`INSERT INTO agents
		(id, type, capabilities, status, current_task_id, last_heartbeat,
		 restart_count, metrics, registered_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			capabilities = excluded.capabilities,
			status = excluded.status,
			current_task_id = excluded.current_task_id,
			last_heartbeat = excluded.last_heartbeat,
			restart_count = excluded.restart_count,
			metrics = excluded.metrics`,
		a.ID, string(a.Type), marshalJSON(a.Capabilities), string(a.Status),
		nullStr(a.CurrentTaskID), a.LastHeartbeat, a.RestartCount,
		marshalJSON(a.Metrics), a.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	logging.StoreDebug("agent upserted: %s (%s)", a.ID, a.Type)
	return nil
}

// UpdateAgentStatus sets status and the currently held task.
func (s *Local) UpdateAgentStatus(id string, status types.AgentStatus, currentTask string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE agents
		SET status = ?, current_task_id = ?, last_heartbeat = ?
		WHERE id = ?`,
		string(status), nullStr(currentTask), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return existsGuard(res)
}

// UpdateAgentMetrics persists the rolling metrics snapshot.
func (s *Local) UpdateAgentMetrics(id string, m types.AgentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE agents SET metrics = ? WHERE id = ?`,
		marshalJSON(m), id)
	if err != nil {
		return err
	}
	return existsGuard(res)
}

// TouchHeartbeat refreshes only the heartbeat timestamp.
func (s *Local) TouchHeartbeat(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE agents SET last_heartbeat = ? WHERE id = ?`,
		at.UTC(), id)
	if err != nil {
		return err
	}
	return existsGuard(res)
}

// IncrementRestart bumps the restart counter and returns the new value.
func (s *Local) IncrementRestart(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE agents SET restart_count = restart_count + 1
		WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRow(`SELECT restart_count FROM agents WHERE id = ?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

// GetAgent fetches a single registration.
func (s *Local) GetAgent(id string) (*types.AgentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all registrations, oldest first.
func (s *Local) ListAgents() ([]*types.AgentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents
		ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.AgentInfo
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAgent removes a registration.
func (s *Local) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	return err
}

func existsGuard(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgent(row rowScanner) (*types.AgentInfo, error) {
	var (
		a            types.AgentInfo
		atype, stat  string
		caps, metric sql.NullString
		current      sql.NullString
	)
	err := row.Scan(&a.ID, &atype, &caps, &stat, &current, &a.LastHeartbeat,
		&a.RestartCount, &metric, &a.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Type = types.AgentType(atype)
	a.Status = types.AgentStatus(stat)
	a.CurrentTaskID = current.String
	unmarshalJSON(caps.String, &a.Capabilities)
	unmarshalJSON(metric.String, &a.Metrics)
	return &a, nil
}
