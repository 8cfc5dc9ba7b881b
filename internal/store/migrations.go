package store

import (
	"database/sql"
	"fmt"

	"hivemind/internal/logging"
)

// migration adds a column to an existing table when a database predates it.
type migration struct {
	table  string
	column string
	ddl    string
}

// migrations lists schema additions in order. CREATE TABLE IF NOT EXISTS
// covers fresh databases; these cover upgrades in place.
var migrations = []migration{
	{"tasks", "retry_count", "ALTER TABLE tasks ADD COLUMN retry_count INTEGER DEFAULT 0"},
	{"tasks", "required_caps", "ALTER TABLE tasks ADD COLUMN required_caps TEXT"},
	{"tasks", "attempts", "ALTER TABLE tasks ADD COLUMN attempts TEXT"},
	{"episodic_events", "importance", "ALTER TABLE episodic_events ADD COLUMN importance REAL DEFAULT 0"},
	{"semantic_memories", "hallucination_risk", "ALTER TABLE semantic_memories ADD COLUMN hallucination_risk TEXT"},
	{"semantic_memories", "embedding", "ALTER TABLE semantic_memories ADD COLUMN embedding BLOB"},
}

// runMigrations applies any missing column additions.
func runMigrations(db *sql.DB) error {
	for _, m := range migrations {
		exists, err := columnExists(db, m.table, m.column)
		if err != nil {
			return fmt.Errorf("migration probe %s.%s: %w", m.table, m.column, err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(m.ddl); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.table, m.column, err)
		}
		logging.StoreDebug("migration applied: %s.%s", m.table, m.column)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
