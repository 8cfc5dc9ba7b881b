package store

import (
	"time"

	"hivemind/internal/logging"
)

// Maintain prunes aged rows and reclaims file space. Consolidated events
// older than eventRetention have already been distilled into semantic
// memories; terminal tasks older than taskRetention are finished work.
func (s *Local) Maintain(eventRetention, taskRetention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	res, err := s.db.Exec(`DELETE FROM episodic_events
		WHERE consolidation_status = 'consolidated' AND timestamp < ?`,
		now.Add(-eventRetention))
	if err != nil {
		return err
	}
	events, _ := res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM tasks
		WHERE status IN ('completed','failed') AND updated_at < ?`,
		now.Add(-taskRetention))
	if err != nil {
		return err
	}
	tasks, _ := res.RowsAffected()

	if _, err := s.db.Exec(`DELETE FROM task_switches WHERE switched_at < ?`,
		now.Add(-eventRetention)); err != nil {
		return err
	}

	if events > 0 || tasks > 0 {
		logging.Store("maintenance: pruned %d events, %d tasks", events, tasks)
		if _, err := s.db.Exec("VACUUM"); err != nil {
			logging.StoreDebug("vacuum failed: %v", err)
		}
	}
	return nil
}
