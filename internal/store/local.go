package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"hivemind/internal/logging"
)

// Local implements Store on SQLite. A single writer connection with WAL
// keeps the claim CAS serialized without long-held locks.
type Local struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

var _ Store = (*Local)(nil)

// Open initializes the SQLite database at the given path.
func Open(path string) (*Local, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Initializing store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	// NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable foreign_keys: %v", err)
	}

	s := &Local{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available, falling back to LIKE search")
	}

	logging.Store("store initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *Local) initialize() error {
	agentsTable := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		capabilities TEXT,
		status TEXT NOT NULL DEFAULT 'idle',
		current_task_id TEXT,
		last_heartbeat DATETIME,
		restart_count INTEGER DEFAULT 0,
		metrics TEXT,
		registered_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type);
	`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		assigned_agent TEXT,
		progress REAL DEFAULT 0,
		blocked_by TEXT,
		retry_count INTEGER DEFAULT 0,
		claimed_at DATETIME,
		depends_on TEXT,
		deadline DATETIME,
		estimated_hours REAL DEFAULT 0,
		tags TEXT,
		required_caps TEXT,
		parent_id TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		last_error TEXT,
		attempts TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_agent);
	`

	episodicTable := `
	CREATE TABLE IF NOT EXISTS episodic_events (
		id TEXT PRIMARY KEY,
		project TEXT,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		content TEXT,
		outcome TEXT,
		surprise REAL DEFAULT 0,
		importance REAL DEFAULT 0,
		context TEXT,
		consolidation_status TEXT NOT NULL DEFAULT 'unconsolidated'
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON episodic_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_project ON episodic_events(project);
	CREATE INDEX IF NOT EXISTS idx_events_status ON episodic_events(consolidation_status);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON episodic_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON episodic_events(event_type);
	`

	semanticTable := `
	CREATE TABLE IF NOT EXISTS semantic_memories (
		id TEXT PRIMARY KEY,
		project TEXT,
		description TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		tags TEXT,
		evidence TEXT,
		source_event_ids TEXT,
		grounding_score REAL DEFAULT 0,
		hallucination_risk TEXT,
		source TEXT,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_semantic_project ON semantic_memories(project);
	CREATE INDEX IF NOT EXISTS idx_semantic_type ON semantic_memories(pattern_type);
	CREATE INDEX IF NOT EXISTS idx_semantic_confidence ON semantic_memories(confidence);
	`

	graphTables := `
	CREATE TABLE IF NOT EXISTS kg_entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT,
		name TEXT NOT NULL,
		kind TEXT,
		frequency INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project, name)
	);
	CREATE TABLE IF NOT EXISTS kg_relations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT,
		entity_a TEXT NOT NULL,
		relation TEXT NOT NULL,
		entity_b TEXT NOT NULL,
		weight REAL DEFAULT 1.0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project, entity_a, relation, entity_b)
	);
	CREATE INDEX IF NOT EXISTS idx_kg_entity_a ON kg_relations(entity_a);
	CREATE INDEX IF NOT EXISTS idx_kg_entity_b ON kg_relations(entity_b);
	`

	goalsTable := `
	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		project TEXT,
		text TEXT NOT NULL,
		goal_type TEXT NOT NULL DEFAULT 'primary',
		priority INTEGER NOT NULL DEFAULT 5,
		status TEXT NOT NULL DEFAULT 'active',
		progress REAL DEFAULT 0,
		estimated_hours REAL DEFAULT 0,
		actual_hours REAL DEFAULT 0,
		deadline DATETIME,
		parent_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_goals_project ON goals(project);
	CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);
	CREATE INDEX IF NOT EXISTS idx_goals_parent ON goals(parent_id);
	`

	switchesTable := `
	CREATE TABLE IF NOT EXISTS task_switches (
		id TEXT PRIMARY KEY,
		project TEXT,
		from_goal_id TEXT,
		to_goal_id TEXT NOT NULL,
		cost_ms REAL NOT NULL,
		reason TEXT,
		context TEXT,
		switched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_switches_project ON task_switches(project);
	`

	milestonesTable := `
	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL,
		description TEXT,
		target_pct REAL NOT NULL,
		reached BOOLEAN DEFAULT FALSE,
		reached_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_milestones_goal ON milestones(goal_id);
	`

	strategyTable := `
	CREATE TABLE IF NOT EXISTS strategy_outcomes (
		strategy TEXT PRIMARY KEY,
		attempts INTEGER DEFAULT 0,
		successes INTEGER DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	consolidationRunsTable := `
	CREATE TABLE IF NOT EXISTS consolidation_runs (
		run_id TEXT PRIMARY KEY,
		project TEXT,
		events_processed INTEGER,
		clusters_formed INTEGER,
		patterns_extracted INTEGER,
		patterns_stored INTEGER,
		patterns_rejected INTEGER,
		patterns_deferred INTEGER,
		quality_before REAL,
		quality_after REAL,
		system2_calls INTEGER,
		duration_ms INTEGER,
		started_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_project ON consolidation_runs(project);
	`

	for _, table := range []string{
		agentsTable,
		tasksTable,
		episodicTable,
		semanticTable,
		graphTables,
		goalsTable,
		switchesTable,
		milestonesTable,
		strategyTable,
		consolidationRunsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Local) Close() error {
	logging.Store("closing store database connection")
	return s.db.Close()
}

// DB returns the underlying connection for inspection tooling.
func (s *Local) DB() *sql.DB {
	return s.db
}

// detectVecExtension probes for sqlite-vec virtual table support.
func (s *Local) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}
}

// GetStats returns per-table row counts for monitoring.
func (s *Local) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"agents", "tasks", "episodic_events", "semantic_memories",
		"kg_entities", "kg_relations", "goals", "task_switches",
		"milestones", "consolidation_runs",
	}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
