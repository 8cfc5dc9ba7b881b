// Package store persists the runtime's durable state in SQLite: tasks with
// the optimistic-lock claim protocol, agent rows, the episodic event log,
// semantic memories, the knowledge graph, executive goals and their
// bookkeeping. The store is the single source of truth; all mutation goes
// through it.
package store

import (
	"errors"
	"time"

	"hivemind/internal/types"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotOwner is returned when a caller tries to mutate a task assigned
	// to a different agent.
	ErrNotOwner = errors.New("store: task not assigned to caller")
)

// TaskStore is the durable task contract with the atomic claim CAS.
type TaskStore interface {
	CreateTask(t *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasksByParent(parentID string) ([]*types.Task, error)
	ListRecentTasks(limit int) ([]*types.Task, error)

	// FindAvailable returns up to limit pending tasks whose dependencies are
	// all completed and whose required capabilities are covered by caps,
	// ordered by priority desc, deadline asc, creation asc.
	FindAvailable(agentType types.AgentType, caps []string, limit int) ([]*types.Task, error)

	// ClaimTask atomically transitions pending/unassigned/version=v to
	// in-progress/assigned/version=v+1. Returns false when the CAS misses.
	ClaimTask(agentID, taskID string, version int64) (bool, error)

	// The three mutators below are guarded by assigned_agent = agentID.
	UpdateProgress(agentID, taskID string, progress float64) error
	CompleteTask(agentID, taskID string, result map[string]any) error
	FailTask(agentID, taskID, reason string) error

	// ForceFail unclaims and fails a task regardless of owner. Reserved for
	// the health monitor.
	ForceFail(taskID, reason string) error

	// ResetForRetry returns a failed task to pending with a version bump and
	// an incremented retry counter.
	ResetForRetry(taskID string) error

	DetectStuck(threshold time.Duration) ([]*types.Task, error)
	DetectRetryable(maxRetries int) ([]*types.Task, error)

	// FailTasksOfAgent force-fails every in-progress task held by an agent
	// and returns the affected task ids. Used when an agent goes offline.
	FailTasksOfAgent(agentID, reason string) ([]string, error)
}

// AgentStore mirrors registry state for restart recovery and inspection.
type AgentStore interface {
	UpsertAgent(a *types.AgentInfo) error
	GetAgent(id string) (*types.AgentInfo, error)
	UpdateAgentStatus(id string, status types.AgentStatus, currentTask string) error
	UpdateAgentMetrics(id string, m types.AgentMetrics) error
	TouchHeartbeat(id string, at time.Time) error
	IncrementRestart(id string) (int, error)
	ListAgents() ([]*types.AgentInfo, error)
	DeleteAgent(id string) error
}

// EpisodicStore owns the append-only event log.
type EpisodicStore interface {
	AppendEvent(e *types.EpisodicEvent) error
	UnconsolidatedEvents(project string, since, until time.Time) ([]*types.EpisodicEvent, error)
	MarkConsolidated(ids []string) error
	// LatestCheckpoint returns the most recent checkpoint event for a parent
	// task, or ErrNotFound.
	LatestCheckpoint(parentTaskID string) (*types.EpisodicEvent, error)
}

// SemanticStore owns consolidated patterns.
type SemanticStore interface {
	StorePattern(p *types.SemanticPattern) error
	ListPatterns(project string, limit int) ([]*types.SemanticPattern, error)
	SearchPatterns(project, query string, limit int) ([]*types.SemanticPattern, error)
}

// GraphStore owns knowledge-graph entities and relations.
type GraphStore interface {
	UpsertEntity(project, name, kind string) error
	UpsertRelation(project, from, relation, to string, weight float64) error
	EntityCount(project string) (int, error)
	RelationCount(project string) (int, error)
}

// GoalStore owns executive state: goals, switches, milestones, strategy
// outcomes, and consolidation-run records.
type GoalStore interface {
	CreateGoal(g *types.Goal) error
	GetGoal(id string) (*types.Goal, error)
	UpdateGoal(g *types.Goal) error
	ListGoals(project string, statuses ...types.GoalStatus) ([]*types.Goal, error)
	ListSubgoals(parentID string) ([]*types.Goal, error)

	RecordSwitch(s *types.TaskSwitch) error
	ListSwitches(project string, limit int) ([]*types.TaskSwitch, error)

	SaveMilestones(goalID string, ms []types.Milestone) error
	ListMilestones(goalID string) ([]types.Milestone, error)

	RecordStrategyOutcome(strategy types.Strategy, success bool) error
	StrategySuccessRates() (map[types.Strategy]float64, error)

	RecordConsolidationRun(r *types.ConsolidationReport) error
}

// Store aggregates every persistence contract the runtime needs.
type Store interface {
	TaskStore
	AgentStore
	EpisodicStore
	SemanticStore
	GraphStore
	GoalStore
	Close() error
}
