// Package orchestrator drives a parent task to completion: decompose via the
// planner, materialize subtasks, keep specialist workers supplied within the
// concurrency budget, reconcile health and progress, and synthesize the
// result. Oversized working state is checkpointed through the memory
// offloader.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/registry"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Loop cadences, shortened in tests.
var (
	assignInterval   = 2 * time.Second
	healthInterval   = 10 * time.Second
	progressInterval = 5 * time.Second
)

// Planner turns the parent task into an execution plan.
type Planner interface {
	Plan(task *types.Task) (*types.ExecutionPlan, error)
}

// Sweeper reconciles agent liveness; normally the registry health monitor.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// WorkerFactory launches a worker of the given type and returns its agent id.
// The worker must run until ctx is cancelled.
type WorkerFactory func(ctx context.Context, agentType types.AgentType) (string, error)

// Recorder receives one outcome per terminal subtask after a run; normally
// the learning tracker.
type Recorder interface {
	RecordExecution(agentID, domain string, success bool, confidence float64, elapsed time.Duration)
}

// Consolidator distills the accumulated episodic window into semantic
// memory; normally the consolidation pipeline.
type Consolidator interface {
	Run(ctx context.Context, project string) (*types.ConsolidationReport, error)
}

// Event is a progress notification surfaced to observers.
type Event struct {
	Kind    string // assigned | progress | offloaded | completed | failed
	TaskID  string
	Message string
	At      time.Time
}

// Synthesis is the final report of an orchestration run.
type Synthesis struct {
	ParentTaskID string
	PlanID       string
	Completed    []string
	Failed       []string
	Results      map[string]map[string]any
	Report       string
	Elapsed      time.Duration
}

// Orchestrator coordinates one parent task at a time.
type Orchestrator struct {
	ID string

	planner  Planner
	tasks    store.TaskStore
	registry *registry.Registry
	sweeper  Sweeper
	factory  WorkerFactory
	offload  *Offloader
	recorder Recorder
	cfg      config.OrchestratorConfig

	sem    *semaphore.Weighted
	paused atomic.Bool
	events chan Event

	consolidator       Consolidator
	consolidateProject string
	consolidateEvery   time.Duration

	mu      sync.Mutex
	workers map[types.AgentType][]string
	cancel  context.CancelFunc
}

func New(planner Planner, tasks store.TaskStore, reg *registry.Registry, sweeper Sweeper, factory WorkerFactory, offload *Offloader, cfg config.OrchestratorConfig) *Orchestrator {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = 4
	}
	return &Orchestrator{
		ID:       "orchestrator-" + uuid.New().String()[:8],
		planner:  planner,
		tasks:    tasks,
		registry: reg,
		sweeper:  sweeper,
		factory:  factory,
		offload:  offload,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentAgents)),
		events:   make(chan Event, 256),
		workers:  make(map[types.AgentType][]string),
	}
}

// SetRecorder attaches an outcome recorder. Must be called before Run.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// SetConsolidator schedules a consolidation pass for the project every
// interval while a run is active. Must be called before Run.
func (o *Orchestrator) SetConsolidator(c Consolidator, project string, interval time.Duration) {
	o.consolidator = c
	o.consolidateProject = project
	o.consolidateEvery = interval
}

// Events exposes the run's notification stream. Events are dropped, never
// blocked on, when the consumer lags.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Pause halts new work assignment; running subtasks continue.
func (o *Orchestrator) Pause() { o.paused.Store(true) }

// Resume re-enables assignment.
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// Stop cancels the active run.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Run drives the parent task to a terminal state and returns the synthesis.
func (o *Orchestrator) Run(ctx context.Context, parentTaskID string) (*Synthesis, error) {
	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	parent, err := o.tasks.GetTask(parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("load parent task: %w", err)
	}
	claimed, err := o.tasks.ClaimTask(o.ID, parent.ID, parent.Version)
	if err != nil {
		return nil, fmt.Errorf("claim parent task: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("parent task %s already claimed", parent.ID)
	}

	plan, err := o.planner.Plan(parent)
	if err != nil {
		o.failParent(parent.ID, fmt.Sprintf("planning failed: %v", err))
		return nil, fmt.Errorf("plan: %w", err)
	}
	subtaskIDs, err := o.materialize(parent, plan)
	if err != nil {
		o.failParent(parent.ID, fmt.Sprintf("materialization failed: %v", err))
		return nil, err
	}
	logging.Orchestrator("%s: plan %s -> %d subtasks for task %s",
		o.ID, plan.ID, len(subtaskIDs), parent.ID)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); o.assignLoop(ctx, parent.ID) }()
	go func() { defer wg.Done(); o.healthLoop(ctx) }()
	go func() { defer wg.Done(); o.progressLoop(ctx, parent.ID, subtaskIDs, plan.ID) }()
	if o.consolidator != nil && o.consolidateEvery > 0 {
		wg.Add(1)
		go func() { defer wg.Done(); o.consolidateLoop(ctx) }()
	}

	result, runErr := o.waitForCompletion(ctx, parent.ID)
	cancel()
	wg.Wait()
	o.teardown()

	if runErr != nil {
		o.failParent(parent.ID, runErr.Error())
		return nil, runErr
	}

	synthesis := o.synthesize(parent.ID, plan.ID, result, started)
	if len(synthesis.Failed) == 0 {
		if err := o.tasks.CompleteTask(o.ID, parent.ID, map[string]any{"report": synthesis.Report}); err != nil {
			logging.Orchestrator("%s: parent completion not recorded: %v", o.ID, err)
		}
	} else {
		o.failParent(parent.ID, fmt.Sprintf("%d subtasks failed", len(synthesis.Failed)))
	}
	o.emit(Event{Kind: "completed", TaskID: parent.ID, Message: synthesis.Report, At: time.Now()})
	return synthesis, nil
}

// materialize persists each plan step as a subtask, preserving dependencies
// and routing each step to an agent type through its tags.
func (o *Orchestrator) materialize(parent *types.Task, plan *types.ExecutionPlan) ([]string, error) {
	stepToTask := make(map[string]string, len(plan.Steps))
	onCritical := make(map[string]bool, len(plan.CriticalPath))
	for _, id := range plan.CriticalPath {
		onCritical[id] = true
	}

	var ids []string
	for _, step := range plan.Steps {
		deps := make([]string, 0, len(step.DependsOn))
		for _, d := range step.DependsOn {
			if tid, ok := stepToTask[d]; ok {
				deps = append(deps, tid)
			}
		}
		agentType := agentTypeFor(step.Description, nil)
		t := &types.Task{
			Title:          step.Description,
			Description:    fmt.Sprintf("%s (step %s of plan %s)", step.Description, step.ID, plan.ID),
			Priority:       stepPriority(step, onCritical[step.ID]),
			DependsOn:      deps,
			EstimatedHours: step.Duration.Hours(),
			Tags:           []string{"type:" + string(agentType), "plan:" + plan.ID},
			ParentID:       parent.ID,
		}
		if err := o.tasks.CreateTask(t); err != nil {
			return nil, fmt.Errorf("materialize step %s: %w", step.ID, err)
		}
		stepToTask[step.ID] = t.ID
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// assignLoop keeps enough workers alive for the pending workload, bounded by
// the concurrency budget. Claims themselves happen through each worker's CAS
// loop; assignment here means supply, not ownership.
func (o *Orchestrator) assignLoop(ctx context.Context, parentID string) {
	ticker := time.NewTicker(assignInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if o.paused.Load() {
			continue
		}

		subtasks, err := o.tasks.ListTasksByParent(parentID)
		if err != nil {
			logging.OrchestratorDebug("%s: list subtasks: %v", o.ID, err)
			continue
		}
		needed := make(map[types.AgentType]bool)
		for _, t := range subtasks {
			if t.Status == types.TaskPending && t.AssignedAgent == "" {
				needed[agentTypeFor(t.Title, t.Tags)] = true
			}
		}
		for agentType := range needed {
			o.ensureWorker(ctx, agentType)
		}
	}
}

// ensureWorker spawns a worker of the type unless an idle or already-spawned
// one exists and the budget allows another.
func (o *Orchestrator) ensureWorker(ctx context.Context, agentType types.AgentType) {
	if len(o.registry.FindIdleByType(agentType)) > 0 {
		return
	}
	o.mu.Lock()
	already := len(o.workers[agentType])
	o.mu.Unlock()
	if already > 0 {
		return
	}
	if !o.sem.TryAcquire(1) {
		return
	}
	agentID, err := o.factory(ctx, agentType)
	if err != nil {
		o.sem.Release(1)
		logging.Orchestrator("%s: spawn %s worker: %v", o.ID, agentType, err)
		return
	}
	o.mu.Lock()
	o.workers[agentType] = append(o.workers[agentType], agentID)
	o.mu.Unlock()
	o.emit(Event{Kind: "assigned", Message: fmt.Sprintf("spawned %s worker %s", agentType, agentID), At: time.Now()})
	context.AfterFunc(ctx, func() { o.sem.Release(1) })
}

func (o *Orchestrator) healthLoop(ctx context.Context) {
	if o.sweeper == nil {
		return
	}
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweeper.Sweep(ctx)
		}
	}
}

// consolidateLoop runs the episodic->semantic pass on its cadence so long
// runs keep feeding semantic memory instead of waiting for the CLI.
func (o *Orchestrator) consolidateLoop(ctx context.Context) {
	ticker := time.NewTicker(o.consolidateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := o.consolidator.Run(ctx, o.consolidateProject)
			if err != nil {
				logging.Orchestrator("%s: scheduled consolidation failed: %v", o.ID, err)
				continue
			}
			logging.Orchestrator("%s: scheduled consolidation stored %d patterns from %d events",
				o.ID, report.PatternsStored, report.EventsProcessed)
		}
	}
}

// progressLoop reconciles subtask progress into the tracked state, emits
// progress events, and offloads when the working set outgrows the budget.
func (o *Orchestrator) progressLoop(ctx context.Context, parentID string, subtaskIDs []string, planID string) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	offloaded := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		subtasks, err := o.tasks.ListTasksByParent(parentID)
		if err != nil {
			continue
		}
		state := o.buildState(parentID, subtaskIDs, subtasks)
		total := len(subtasks)
		done := len(state.Completed) + len(state.Failed)
		o.emit(Event{
			Kind:    "progress",
			TaskID:  parentID,
			Message: fmt.Sprintf("%d/%d subtasks terminal (plan %s)", done, total, planID),
			At:      time.Now(),
		})

		if o.offload != nil && !offloaded && o.offload.ShouldOffload(state) {
			if err := o.offload.Checkpoint(state, "context budget exceeded"); err != nil {
				logging.Orchestrator("%s: offload failed: %v", o.ID, err)
				continue
			}
			offloaded = true
			o.emit(Event{Kind: "offloaded", TaskID: parentID, At: time.Now()})
		}
	}
}

func (o *Orchestrator) buildState(parentID string, subtaskIDs []string, subtasks []*types.Task) *types.OrchestrationState {
	state := &types.OrchestrationState{
		OrchestratorID: o.ID,
		ParentTaskID:   parentID,
		SubtaskIDs:     subtaskIDs,
		Counters:       map[string]int{"subtasks": len(subtaskIDs)},
	}
	o.mu.Lock()
	for _, ids := range o.workers {
		state.ActiveWorkers = append(state.ActiveWorkers, ids...)
	}
	o.mu.Unlock()
	for _, t := range subtasks {
		switch {
		case t.Status == types.TaskCompleted:
			state.Completed = append(state.Completed, t.ID)
		case t.Status == types.TaskFailed:
			state.Failed = append(state.Failed, t.ID)
		case t.BlockedBy != "":
			state.Blocked = append(state.Blocked, t.ID)
		}
	}
	return state
}

// waitForCompletion polls until every subtask is terminal, or aborts early
// when a critical subtask fails with no retries left.
func (o *Orchestrator) waitForCompletion(ctx context.Context, parentID string) ([]*types.Task, error) {
	ticker := time.NewTicker(assignInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		subtasks, err := o.tasks.ListTasksByParent(parentID)
		if err != nil {
			continue
		}
		allTerminal := len(subtasks) > 0
		for _, t := range subtasks {
			if t.Status == types.TaskFailed && t.Priority == types.PriorityCritical {
				return subtasks, fmt.Errorf("critical subtask %s failed: %s", t.ID, t.LastError)
			}
			if !t.Status.Terminal() {
				allTerminal = false
			}
		}
		if allTerminal {
			return subtasks, nil
		}
	}
}

func (o *Orchestrator) synthesize(parentID, planID string, subtasks []*types.Task, started time.Time) *Synthesis {
	s := &Synthesis{
		ParentTaskID: parentID,
		PlanID:       planID,
		Results:      make(map[string]map[string]any),
		Elapsed:      time.Since(started),
	}
	var lines []string
	for _, t := range subtasks {
		switch t.Status {
		case types.TaskCompleted:
			s.Completed = append(s.Completed, t.ID)
			s.Results[t.ID] = t.Result
			lines = append(lines, fmt.Sprintf("- %s: completed", t.Title))
		case types.TaskFailed:
			s.Failed = append(s.Failed, t.ID)
			lines = append(lines, fmt.Sprintf("- %s: failed (%s)", t.Title, t.LastError))
		default:
			continue
		}
		if o.recorder != nil {
			o.recorder.RecordExecution(t.AssignedAgent, string(agentTypeFor(t.Title, t.Tags)),
				t.Status == types.TaskCompleted, resultConfidence(t), taskElapsed(t))
		}
	}
	s.Report = fmt.Sprintf("orchestration of %s: %d completed, %d failed\n%s",
		parentID, len(s.Completed), len(s.Failed), strings.Join(lines, "\n"))
	return s
}

func resultConfidence(t *types.Task) float64 {
	if c, ok := t.Result["confidence"].(float64); ok {
		return c
	}
	if t.Status == types.TaskCompleted {
		return 0.5
	}
	return 0
}

func taskElapsed(t *types.Task) time.Duration {
	if t.ClaimedAt == nil {
		return 0
	}
	return t.UpdatedAt.Sub(*t.ClaimedAt)
}

// teardown asks every spawned worker's registry entry to shut down.
func (o *Orchestrator) teardown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ids := range o.workers {
		for _, id := range ids {
			if err := o.registry.UpdateStatus(id, types.AgentShutdown, ""); err != nil {
				logging.OrchestratorDebug("%s: teardown of %s: %v", o.ID, id, err)
			}
		}
	}
	o.workers = make(map[types.AgentType][]string)
}

func (o *Orchestrator) failParent(taskID, reason string) {
	if err := o.tasks.FailTask(o.ID, taskID, reason); err != nil {
		logging.Orchestrator("%s: parent failure not recorded: %v", o.ID, err)
	}
	o.emit(Event{Kind: "failed", TaskID: taskID, Message: reason, At: time.Now()})
}

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
	}
}

// stepPriority maps a plan step onto the task priority scale. Critical-path
// steps outrank their siblings.
func stepPriority(step types.PlanStep, onCriticalPath bool) types.TaskPriority {
	switch {
	case step.Risk == types.RiskHigh && onCriticalPath:
		return types.PriorityCritical
	case step.Risk == types.RiskHigh || onCriticalPath:
		return types.PriorityHigh
	case step.Risk == types.RiskMedium:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// agentTypeFor routes a task to a specialist family from its tags, falling
// back to title keywords.
func agentTypeFor(title string, tags []string) types.AgentType {
	for _, tag := range tags {
		if rest, ok := strings.CutPrefix(tag, "type:"); ok {
			return types.AgentType(rest)
		}
	}
	lower := strings.ToLower(title)
	switch {
	case containsWord(lower, "research", "investigate", "explore", "spike"):
		return types.AgentResearch
	case containsWord(lower, "test", "verify", "validate"):
		return types.AgentValidation
	case containsWord(lower, "review", "audit"):
		return types.AgentReview
	case containsWord(lower, "document", "docs"):
		return types.AgentDocumentation
	case containsWord(lower, "analyze", "analysis", "profile"):
		return types.AgentAnalysis
	case containsWord(lower, "plan", "design", "architect"):
		return types.AgentPlanner
	case containsWord(lower, "debug", "diagnose"):
		return types.AgentDebugging
	default:
		return types.AgentExecutor
	}
}

func containsWord(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
