package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hivemind/internal/agent"
	"hivemind/internal/bus"
	"hivemind/internal/config"
	"hivemind/internal/consolidation"
	"hivemind/internal/embedding"
	"hivemind/internal/executive"
	"hivemind/internal/learning"
	"hivemind/internal/llm"
	"hivemind/internal/logging"
	"hivemind/internal/orchestrator"
	"hivemind/internal/planner"
	"hivemind/internal/predictor"
	"hivemind/internal/registry"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

var (
	runGoalID string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run [task-id]",
	Short: "Orchestrate a parent task to completion",
	Long: `Claims the parent task, decomposes it through the planner, spawns
specialist workers within the concurrency budget, and synthesizes the results
when every subtask is terminal. With --goal the decomposition strategy is
chosen by the executive layer for that goal.`,
	Args: cobra.ExactArgs(1),
	RunE: runOrchestration,
}

func init() {
	runCmd.Flags().StringVar(&runGoalID, "goal", "", "goal id providing the decomposition strategy")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "execute subtasks with a no-op executor instead of the LLM")
	rootCmd.AddCommand(runCmd)
}

// planFunc adapts a closure to the orchestrator's Planner.
type planFunc func(*types.Task) (*types.ExecutionPlan, error)

func (f planFunc) Plan(t *types.Task) (*types.ExecutionPlan, error) { return f(t) }

// openRuntime loads config, initializes category logging, and opens the store
// and registry. The caller owns st.Close.
func openRuntime() (*config.Config, *store.Local, *registry.Registry, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := logging.Initialize(workspace); err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := registry.New(st)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return cfg, st, reg, nil
}

func runOrchestration(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, st, reg, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	// Config edits apply to the running orchestration without a restart.
	go func() {
		if err := config.Watch(ctx, workspace, func(next *config.Config) {
			logger.Info("configuration reloaded", zap.String("level", next.Logging.Level))
		}); err != nil && ctx.Err() == nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	var client llm.Client
	if !runDryRun {
		client, err = llm.NewGenAIClient(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("LLM client unavailable (use --dry-run to skip): %w", err)
		}
	}

	factory := func(ctx context.Context, agentType types.AgentType) (string, error) {
		var executor agent.Executor
		if runDryRun {
			executor = &agent.FuncExecutor{
				Type: agentType,
				Fn: func(_ context.Context, task *types.Task, report func(float64)) (*agent.Result, error) {
					report(100)
					return &agent.Result{
						Output:     map[string]any{"skipped": task.Title},
						Confidence: 1.0,
					}, nil
				},
			}
		} else {
			executor = agent.NewLLMExecutor(agentType, nil, client)
		}
		w := agent.NewWorker(executor, reg, st, cfg.Agents)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Warn("worker exited", zap.String("id", w.ID), zap.Error(err))
			}
		}()
		return w.ID, nil
	}

	var pl orchestrator.Planner = planner.New()
	if runGoalID != "" {
		bridge := orchestrator.NewBridge(st, executive.NewStrategySelector(st))
		dc, err := bridge.DecompositionContextFor(runGoalID, 0)
		if err != nil {
			return err
		}
		fmt.Printf("Strategy for goal %s: %s (%.2f) - %s\n",
			dc.GoalID, dc.Strategy, dc.Confidence, dc.Reasoning)
		sp := planner.NewStrategyPlanner(planner.New())
		pl = planFunc(func(t *types.Task) (*types.ExecutionPlan, error) {
			return sp.PlanWithStrategy(t, dc.Strategy, dc.Reasoning)
		})
	}

	// Pre-execution risk advisory.
	pred := predictor.New(cfg.Predictor)
	if parent, err := st.GetTask(args[0]); err == nil {
		r := pred.Predict(parent)
		fmt.Printf("Predicted: %.0fs, success probability %.2f, risk %s\n",
			r.Duration.Seconds, r.SuccessProbability, r.RiskLevel)
		for _, rec := range r.Recommendations {
			fmt.Println("  hint:", rec)
		}
	}

	// Dead workers come back as the same agent type so their reassigned
	// tasks find a capable replacement.
	spawner := func(ctx context.Context, info *types.AgentInfo) error {
		_, err := factory(ctx, info.Type)
		return err
	}
	monitor := registry.NewHealthMonitor(reg, st, spawner, cfg.Agents)
	offload := orchestrator.NewOffloader(st, cfg.Orchestrator.ContextTokenLimit, cfg.Orchestrator.OffloadThreshold)
	tracker := learning.NewTracker(st, st)

	orch := orchestrator.New(pl, st, reg, monitor, factory, offload, cfg.Orchestrator)
	orch.SetRecorder(tracker)

	// Long runs consolidate on the window cadence; heuristics only, the
	// deliberate pass stays behind the consolidate command.
	consolidateOpts := []consolidation.Option{
		consolidation.WithGraph(consolidation.NewGraphSynthesizer(st)),
	}
	if engine, err := embedding.NewEngine(cfg.Embedding, cfg.LLM.APIKey); err == nil {
		consolidateOpts = append(consolidateOpts, consolidation.WithEmbedder(engine))
	}
	orch.SetConsolidator(
		consolidation.NewPipeline(st, cfg.Consolidation, consolidateOpts...),
		project,
		time.Duration(cfg.Consolidation.WindowHours)*time.Hour)

	// Orchestration events ride the shared bus so any observer (here, the
	// CLI logger) can subscribe without coupling to the orchestrator.
	b := bus.New(cfg.Bus.MaxQueueSize, cfg.Bus.LogSize)
	b.Start(ctx)
	defer b.Close()
	b.Subscribe("observer", func(_ context.Context, msg types.Message) (map[string]any, error) {
		logger.Info("orchestration event",
			zap.String("kind", fmt.Sprint(msg.Payload["kind"])),
			zap.String("task", fmt.Sprint(msg.Payload["task"])),
			zap.String("msg", fmt.Sprint(msg.Payload["msg"])))
		return nil, nil
	})
	go func() {
		for ev := range orch.Events() {
			priority := 0.5
			if ev.Kind == "failed" {
				priority = 0.9
			}
			_ = b.Publish(types.Message{
				Sender:    "orchestrator",
				Recipient: "observer",
				Kind:      types.MessageUpdate,
				Priority:  priority,
				Payload:   map[string]any{"kind": ev.Kind, "task": ev.TaskID, "msg": ev.Message},
			})
		}
	}()

	started := time.Now()
	synthesis, err := orch.Run(ctx, args[0])
	if err != nil {
		return err
	}
	pred.RecordDuration("generic", time.Since(started))
	if _, err := tracker.Flush(project); err != nil {
		logger.Warn("learning flush failed", zap.Error(err))
	}

	fmt.Println(synthesis.Report)
	fmt.Printf("Elapsed: %s\n", synthesis.Elapsed.Round(time.Second))
	stats := b.GetStats()
	fmt.Printf("Bus: %d published, %d delivered, %d dropped\n",
		stats.Published, stats.Delivered, stats.Dropped)
	return nil
}
