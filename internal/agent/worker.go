// Package agent implements the specialist worker loop: poll for claimable
// work, win the claim, execute, report. Execution is pluggable per
// specialization.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/registry"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

const confidenceWindow = 100

// Result is what an executor produces for a completed task.
type Result struct {
	Output     map[string]any
	Confidence float64 // 0..1
}

// Executor performs one task. Implementations are the specialists.
type Executor interface {
	Execute(ctx context.Context, task *types.Task, report func(progress float64)) (*Result, error)
	Specialization() types.AgentType
	Capabilities() []string
}

// Worker is one running agent: an executor wrapped in the claim loop,
// heartbeating, and rolling metrics.
type Worker struct {
	ID string

	executor Executor
	registry *registry.Registry
	tasks    store.TaskStore
	cfg      config.AgentsConfig

	mu          sync.Mutex
	running     bool
	confidences []float64 // ring of the last N execution confidences
	metrics     types.AgentMetrics
}

// NewWorker builds a worker around an executor. The id embeds the
// specialization for readable logs.
func NewWorker(executor Executor, reg *registry.Registry, tasks store.TaskStore, cfg config.AgentsConfig) *Worker {
	return &Worker{
		ID:       fmt.Sprintf("%s-%s", executor.Specialization(), uuid.New().String()[:8]),
		executor: executor,
		registry: reg,
		tasks:    tasks,
		cfg:      cfg,
	}
}

// Run registers the worker and drives the poll/claim/execute loop until ctx
// is done. The heartbeat goroutine runs alongside.
func (w *Worker) Run(ctx context.Context) error {
	info := &types.AgentInfo{
		ID:           w.ID,
		Type:         w.executor.Specialization(),
		Capabilities: w.executor.Capabilities(),
	}
	if err := w.registry.Register(info); err != nil {
		return fmt.Errorf("worker registration failed: %w", err)
	}
	w.setRunning(true)
	defer func() {
		w.setRunning(false)
		_ = w.registry.UpdateStatus(w.ID, types.AgentShutdown, "")
		logging.Worker("%s shut down", w.ID)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()
	defer wg.Wait()

	pollInterval := time.Duration(w.cfg.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	logging.Worker("%s started (caps=%v)", w.ID, info.Capabilities)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, ok := w.claimNext()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			continue
		}
		w.execute(ctx, task)
	}
}

// claimNext polls for available work and races for the claim. A lost claim
// is not an error; the next candidate is tried.
func (w *Worker) claimNext() (*types.Task, bool) {
	candidates, err := w.tasks.FindAvailable(
		w.executor.Specialization(), w.executor.Capabilities(), 5)
	if err != nil {
		logging.Get(logging.CategoryWorker).Error("%s poll failed: %v", w.ID, err)
		return nil, false
	}
	for _, t := range candidates {
		won, err := w.tasks.ClaimTask(w.ID, t.ID, t.Version)
		if err != nil {
			logging.Get(logging.CategoryWorker).Error("%s claim %s: %v", w.ID, t.ID, err)
			continue
		}
		if !won {
			// Another worker got there first.
			continue
		}
		logging.Worker("%s claimed task %s (%s)", w.ID, t.ID, t.Title)
		return t, true
	}
	return nil, false
}

// execute runs the task through the executor and reports the outcome.
func (w *Worker) execute(ctx context.Context, task *types.Task) {
	_ = w.registry.UpdateStatus(w.ID, types.AgentBusy, task.ID)
	start := time.Now()

	report := func(progress float64) {
		if err := w.tasks.UpdateProgress(w.ID, task.ID, progress); err != nil {
			logging.WorkerDebug("%s progress report on %s: %v", w.ID, task.ID, err)
		}
	}

	result, err := w.executor.Execute(ctx, task, report)
	elapsed := time.Since(start)

	if err != nil {
		w.recordOutcome(0, elapsed, false)
		if failErr := w.tasks.FailTask(w.ID, task.ID, err.Error()); failErr != nil {
			logging.Get(logging.CategoryWorker).Error("%s fail-report on %s: %v", w.ID, task.ID, failErr)
		}
		logging.Worker("%s failed task %s after %s: %v", w.ID, task.ID, elapsed.Round(time.Millisecond), err)
	} else {
		w.recordOutcome(result.Confidence, elapsed, true)
		output := result.Output
		if output == nil {
			output = map[string]any{}
		}
		output["confidence"] = result.Confidence
		if compErr := w.tasks.CompleteTask(w.ID, task.ID, output); compErr != nil {
			logging.Get(logging.CategoryWorker).Error("%s complete-report on %s: %v", w.ID, task.ID, compErr)
		}
		logging.Worker("%s completed task %s in %s (confidence %.2f)",
			w.ID, task.ID, elapsed.Round(time.Millisecond), result.Confidence)
	}

	_ = w.registry.UpdateStatus(w.ID, types.AgentIdle, "")
	_ = w.registry.UpdateMetrics(w.ID, w.Metrics())
}

// recordOutcome folds one execution into the rolling metrics.
func (w *Worker) recordOutcome(confidence float64, elapsed time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.metrics.Decisions++
	if success {
		w.metrics.Successes++
		w.confidences = append(w.confidences, confidence)
		if len(w.confidences) > confidenceWindow {
			w.confidences = w.confidences[1:]
		}
	} else {
		w.metrics.Errors++
	}
	w.metrics.ErrorRate = float64(w.metrics.Errors) / float64(w.metrics.Decisions)

	var sum float64
	for _, c := range w.confidences {
		sum += c
	}
	if len(w.confidences) > 0 {
		w.metrics.AvgConfidence = sum / float64(len(w.confidences))
	}

	// Incremental mean over all decisions.
	n := float64(w.metrics.Decisions)
	w.metrics.AvgDecisionMillis += (float64(elapsed.Milliseconds()) - w.metrics.AvgDecisionMillis) / n
}

// Metrics returns a copy of the rolling metrics.
func (w *Worker) Metrics() types.AgentMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// Healthy reports whether the worker is running with an acceptable error
// rate and confidence. A worker with no completed work yet is healthy.
func (w *Worker) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return false
	}
	if w.metrics.Decisions == 0 {
		return true
	}
	if w.metrics.ErrorRate > 0.2 {
		return false
	}
	if len(w.confidences) > 0 && w.metrics.AvgConfidence < 0.5 {
		return false
	}
	return true
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

// heartbeatLoop refreshes registry liveness until ctx is done.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(w.cfg.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.registry.Heartbeat(w.ID); err != nil {
				logging.WorkerDebug("%s heartbeat: %v", w.ID, err)
			}
		}
	}
}
