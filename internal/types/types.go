// Package types defines the shared domain model for the hivemind runtime:
// agents, bus messages, tasks, plans, goals, episodic events, semantic
// patterns, and prediction results. All timestamps are UTC.
package types

import (
	"time"
)

// =============================================================================
// AGENTS
// =============================================================================

// AgentType identifies the specialist family a worker belongs to.
type AgentType string

const (
	AgentPlanner       AgentType = "planner"
	AgentExecutor      AgentType = "executor"
	AgentMonitor       AgentType = "monitor"
	AgentPredictor     AgentType = "predictor"
	AgentLearner       AgentType = "learner"
	AgentResearch      AgentType = "research"
	AgentAnalysis      AgentType = "analysis"
	AgentSynthesis     AgentType = "synthesis"
	AgentValidation    AgentType = "validation"
	AgentOptimization  AgentType = "optimization"
	AgentDocumentation AgentType = "documentation"
	AgentReview        AgentType = "review"
	AgentDebugging     AgentType = "debugging"
)

// AgentStatus is the liveness state of a worker.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "idle"
	AgentBusy     AgentStatus = "busy"
	AgentFailed   AgentStatus = "failed"
	AgentOffline  AgentStatus = "offline"
	AgentShutdown AgentStatus = "shutdown"
)

// AgentMetrics holds rolling per-worker statistics.
type AgentMetrics struct {
	Decisions         int64   `json:"decisions"`
	Successes         int64   `json:"successes"`
	Errors            int64   `json:"errors"`
	ErrorRate         float64 `json:"error_rate"`
	AvgConfidence     float64 `json:"avg_confidence"`
	AvgDecisionMillis float64 `json:"avg_decision_ms"`
}

// AgentInfo is the registry record for an addressable worker.
type AgentInfo struct {
	ID            string       `json:"id"`
	Type          AgentType    `json:"type"`
	Capabilities  []string     `json:"capabilities"`
	Status        AgentStatus  `json:"status"`
	CurrentTaskID string       `json:"current_task_id,omitempty"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	RestartCount  int          `json:"restart_count"`
	Metrics       AgentMetrics `json:"metrics"`
	RegisteredAt  time.Time    `json:"registered_at"`
}

// HasCapabilities reports whether the agent's capability set covers required.
func (a *AgentInfo) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// =============================================================================
// MESSAGES
// =============================================================================

// MessageKind classifies a bus envelope.
type MessageKind string

const (
	MessageRequest   MessageKind = "request"
	MessageResponse  MessageKind = "response"
	MessageAlert     MessageKind = "alert"
	MessageUpdate    MessageKind = "update"
	MessageHeartbeat MessageKind = "heartbeat"
)

// Message is the envelope carried by the bus. Priority is in [0,1];
// higher priority messages are dequeued first.
type Message struct {
	ID               string         `json:"id"`
	Sender           string         `json:"sender"`
	Recipient        string         `json:"recipient"`
	Kind             MessageKind    `json:"kind"`
	Payload          map[string]any `json:"payload,omitempty"`
	Priority         float64        `json:"priority"`
	Timestamp        time.Time      `json:"timestamp"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	ResponseExpected bool           `json:"response_expected"`
	Timeout          time.Duration  `json:"timeout,omitempty"`
}

// =============================================================================
// TASKS
// =============================================================================

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskPriority orders competing tasks.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// Rank maps a priority to a sortable integer (higher = more urgent).
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// TaskAttempt records one failed execution try.
type TaskAttempt struct {
	Number    int       `json:"number"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Task is the unit of work persisted in the store. Version implements
// the optimistic-lock claim protocol: every state transition bumps it.
type Task struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Status         TaskStatus     `json:"status"`
	Priority       TaskPriority   `json:"priority"`
	AssignedAgent  string         `json:"assigned_agent,omitempty"`
	Progress       float64        `json:"progress"` // 0..100
	BlockedBy      string         `json:"blocked_by,omitempty"`
	RetryCount     int            `json:"retry_count"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	Deadline       *time.Time     `json:"deadline,omitempty"`
	EstimatedHours float64        `json:"estimated_hours,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	ParentID       string         `json:"parent_id,omitempty"`
	Version        int64          `json:"version"`
	Result         map[string]any `json:"result,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Attempts       []TaskAttempt  `json:"attempts,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// =============================================================================
// PLANS
// =============================================================================

// RiskLevel labels plan steps and prediction outcomes.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PlanStep is a node of the decomposition DAG.
type PlanStep struct {
	ID              string             `json:"id"`
	Description     string             `json:"description"`
	Duration        time.Duration      `json:"duration"`
	Resources       map[string]float64 `json:"resources,omitempty"` // cpu/memory/io/network/disk
	DependsOn       []string           `json:"depends_on,omitempty"`
	Salience        float64            `json:"salience"`
	Risk            RiskLevel          `json:"risk"`
	SuccessCriteria []string           `json:"success_criteria,omitempty"`
	Preconditions   []string           `json:"preconditions,omitempty"`
}

// ExecutionPlan is the output of decomposition.
type ExecutionPlan struct {
	ID           string             `json:"id"`
	TaskID       string             `json:"task_id"`
	Description  string             `json:"description"`
	Steps        []PlanStep         `json:"steps"`
	Duration     time.Duration      `json:"duration"`
	Resources    map[string]float64 `json:"resources,omitempty"`
	Confidence   float64            `json:"confidence"`
	Complexity   string             `json:"complexity"`
	CriticalPath []string           `json:"critical_path,omitempty"`
	Strategy     Strategy           `json:"strategy,omitempty"`
	Reasoning    string             `json:"reasoning,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Strategy is one of the closed set of decomposition shapes.
type Strategy string

const (
	StrategyTopDown        Strategy = "top_down"
	StrategyBottomUp       Strategy = "bottom_up"
	StrategySpike          Strategy = "spike"
	StrategyIncremental    Strategy = "incremental"
	StrategyParallel       Strategy = "parallel"
	StrategySequential     Strategy = "sequential"
	StrategyDeadlineDriven Strategy = "deadline_driven"
	StrategyQualityFirst   Strategy = "quality_first"
	StrategyCollaboration  Strategy = "collaboration"
	StrategyExperimental   Strategy = "experimental"
)

// AllStrategies returns the closed strategy set in scoring order.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyTopDown, StrategyBottomUp, StrategySpike, StrategyIncremental,
		StrategyParallel, StrategySequential, StrategyDeadlineDriven,
		StrategyQualityFirst, StrategyCollaboration, StrategyExperimental,
	}
}

// =============================================================================
// GOALS
// =============================================================================

// GoalType distinguishes durable objectives.
type GoalType string

const (
	GoalPrimary     GoalType = "primary"
	GoalSubgoal     GoalType = "subgoal"
	GoalMaintenance GoalType = "maintenance"
)

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalSuspended GoalStatus = "suspended"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalAbandoned GoalStatus = "abandoned"
)

// Terminal reports whether the goal can no longer change state.
func (s GoalStatus) Terminal() bool {
	return s == GoalCompleted || s == GoalFailed || s == GoalAbandoned
}

// MaxGoalDepth bounds the goal hierarchy.
const MaxGoalDepth = 5

// Goal is a durable objective. Priority is 1-10; Progress is 0..1.
type Goal struct {
	ID             string     `json:"id"`
	Project        string     `json:"project"`
	Text           string     `json:"text"`
	Type           GoalType   `json:"type"`
	Priority       int        `json:"priority"`
	Status         GoalStatus `json:"status"`
	Progress       float64    `json:"progress"`
	EstimatedHours float64    `json:"estimated_hours,omitempty"`
	ActualHours    float64    `json:"actual_hours,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	ParentID       string     `json:"parent_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TaskSwitch records a change of the current goal and its charged cost.
type TaskSwitch struct {
	ID         string         `json:"id"`
	Project    string         `json:"project"`
	FromGoalID string         `json:"from_goal_id,omitempty"`
	ToGoalID   string         `json:"to_goal_id"`
	CostMillis float64        `json:"cost_ms"`
	Reason     string         `json:"reason,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	SwitchedAt time.Time      `json:"switched_at"`
}

// Milestone is a progress checkpoint generated for a goal.
type Milestone struct {
	ID          string     `json:"id"`
	GoalID      string     `json:"goal_id"`
	Description string     `json:"description"`
	TargetPct   float64    `json:"target_pct"` // goal progress at which it is due
	Reached     bool       `json:"reached"`
	ReachedAt   *time.Time `json:"reached_at,omitempty"`
}

// =============================================================================
// EPISODIC EVENTS
// =============================================================================

// EventType classifies an observed fact.
type EventType string

const (
	EventAction     EventType = "action"
	EventDecision   EventType = "decision"
	EventError      EventType = "error"
	EventFileChange EventType = "file_change"
	EventTestRun    EventType = "test_run"
	EventCheckpoint EventType = "checkpoint"
)

// Outcome labels how an observed event ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeOngoing Outcome = "ongoing"
)

// EventContext situates an event in the workspace.
type EventContext struct {
	CWD    string   `json:"cwd,omitempty"`
	Files  []string `json:"files,omitempty"`
	TaskID string   `json:"task_id,omitempty"`
	Phase  string   `json:"phase,omitempty"`
}

// EpisodicEvent is a single timestamped observation. Events are append-only;
// only the consolidation flag flips after creation.
type EpisodicEvent struct {
	ID           string       `json:"id"`
	Project      string       `json:"project,omitempty"`
	SessionID    string       `json:"session_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Type         EventType    `json:"type"`
	Content      string       `json:"content"`
	Outcome      Outcome      `json:"outcome"`
	Surprise     float64      `json:"surprise,omitempty"`
	Importance   float64      `json:"importance,omitempty"`
	Context      EventContext `json:"context"`
	Consolidated bool         `json:"consolidated"`
}

// =============================================================================
// SEMANTIC PATTERNS
// =============================================================================

// PatternType classifies consolidated knowledge.
type PatternType string

const (
	PatternWorkflow PatternType = "workflow"
	PatternDecision PatternType = "decision"
	PatternFact     PatternType = "fact"
	PatternGeneric  PatternType = "pattern"
)

// SemanticPattern is a validated generalization extracted from a cluster
// of episodic events. Created only by the consolidation pipeline.
type SemanticPattern struct {
	ID                string      `json:"id"`
	Project           string      `json:"project,omitempty"`
	Description       string      `json:"description"`
	Type              PatternType `json:"type"`
	Confidence        float64     `json:"confidence"`
	Tags              []string    `json:"tags,omitempty"`
	Evidence          []string    `json:"evidence,omitempty"`
	SourceEventIDs    []string    `json:"source_event_ids,omitempty"`
	GroundingScore    float64     `json:"grounding_score"`
	HallucinationRisk string      `json:"hallucination_risk,omitempty"` // low/medium/high
	Source            string      `json:"source,omitempty"`             // system1/system2/merged/deferred
	CreatedAt         time.Time   `json:"created_at"`
}

// =============================================================================
// PREDICTIONS
// =============================================================================

// ConfidenceInterval is a (lower, point, upper) triple at a nominal level.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Point float64 `json:"point"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"` // default 0.9
}

// Valid reports whether lower <= point <= upper holds.
func (ci ConfidenceInterval) Valid() bool {
	return ci.Lower <= ci.Point && ci.Point <= ci.Upper
}

// RelativeUncertainty returns (upper-lower)/2/|point|, or 0 for a zero point.
func (ci ConfidenceInterval) RelativeUncertainty() float64 {
	if ci.Point == 0 {
		return 0
	}
	p := ci.Point
	if p < 0 {
		p = -p
	}
	return (ci.Upper - ci.Lower) / 2 / p
}

// DurationPrediction forecasts task duration with its interval (seconds).
type DurationPrediction struct {
	Seconds  float64            `json:"seconds"`
	Interval ConfidenceInterval `json:"interval"`
}

// ResourceForecast is a per-resource utilization forecast.
type ResourceForecast struct {
	Resource  string             `json:"resource"`
	Current   float64            `json:"current"`
	Predicted float64            `json:"predicted"`
	Interval  ConfidenceInterval `json:"interval"`
}

// BottleneckAlert flags a resource heading for saturation.
type BottleneckAlert struct {
	Resource         string        `json:"resource"`
	Severity         string        `json:"severity"` // medium/high/critical
	Utilization      float64       `json:"utilization"`
	TimeToSaturation time.Duration `json:"time_to_saturation,omitempty"`
	Predicted        bool          `json:"predicted"` // true when not yet saturated
	Mitigations      []string      `json:"mitigations,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// TemporalPattern is a detected regularity in a metric stream.
type TemporalPattern struct {
	Metric      string  `json:"metric"`
	Kind        string  `json:"kind"` // trend/cycle/stationary/anomaly
	Strength    float64 `json:"strength"`
	Period      int     `json:"period,omitempty"` // samples, for cycles
	Description string  `json:"description,omitempty"`
}

// PredictionResult is the predictor's pre-execution risk estimate.
type PredictionResult struct {
	ID                  string             `json:"id"`
	TaskID              string             `json:"task_id"`
	Duration            DurationPrediction `json:"duration"`
	Resources           []ResourceForecast `json:"resources,omitempty"`
	Bottlenecks         []BottleneckAlert  `json:"bottlenecks,omitempty"`
	Patterns            []TemporalPattern  `json:"patterns,omitempty"`
	RiskLevel           RiskLevel          `json:"risk_level"`
	SuccessProbability  float64            `json:"success_probability"`
	Confidence          float64            `json:"confidence"`
	Recommendations     []string           `json:"recommendations,omitempty"`
	CriticalConstraints []string           `json:"critical_constraints,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}

// =============================================================================
// ORCHESTRATION STATE
// =============================================================================

// OrchestrationState is the compact checkpoint written by memory offload.
type OrchestrationState struct {
	OrchestratorID string         `json:"orchestrator_id"`
	ParentTaskID   string         `json:"parent_task_id"`
	SubtaskIDs     []string       `json:"subtask_ids"`
	ActiveWorkers  []string       `json:"active_workers"`
	Completed      []string       `json:"completed"`
	Failed         []string       `json:"failed"`
	Blocked        []string       `json:"blocked"`
	Counters       map[string]int `json:"counters"`
	Reason         string         `json:"reason,omitempty"`
	CheckpointedAt time.Time      `json:"checkpointed_at"`
}

// =============================================================================
// CONSOLIDATION REPORT
// =============================================================================

// ConsolidationReport summarizes one consolidation run.
type ConsolidationReport struct {
	RunID             string        `json:"run_id"`
	Project           string        `json:"project"`
	EventsProcessed   int           `json:"events_processed"`
	ClustersFormed    int           `json:"clusters_formed"`
	PatternsExtracted int           `json:"patterns_extracted"`
	PatternsStored    int           `json:"patterns_stored"`
	PatternsRejected  int           `json:"patterns_rejected"`
	PatternsDeferred  int           `json:"patterns_deferred"`
	QualityBefore     float64       `json:"quality_before"`
	QualityAfter      float64       `json:"quality_after"`
	GraphEntities     int           `json:"graph_entities,omitempty"`
	GraphRelations    int           `json:"graph_relations,omitempty"`
	System2Calls      int           `json:"system2_calls"`
	System2Latency    time.Duration `json:"system2_latency,omitempty"`
	Duration          time.Duration `json:"duration"`
	StartedAt         time.Time     `json:"started_at"`
}

// QualityDelta returns the change in memory quality produced by the run.
func (r ConsolidationReport) QualityDelta() float64 {
	return r.QualityAfter - r.QualityBefore
}
