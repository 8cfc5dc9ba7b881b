package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hivemind/internal/consolidation"
	"hivemind/internal/embedding"
	"hivemind/internal/llm"
)

var (
	consolidateHeuristicOnly bool
	consolidatePrune         bool
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Distill recent episodic events into semantic memory",
	Long: `Clusters the unconsolidated event window, extracts candidate patterns
(heuristics first, LLM deliberation when the cluster warrants it), validates
them against the source events, and stores the survivors. The knowledge graph
is updated from the same window.`,
	RunE: runConsolidation,
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateHeuristicOnly, "heuristic-only", false, "skip LLM deliberation and reviewer passes")
	consolidateCmd.Flags().BoolVar(&consolidatePrune, "prune", false, "archive old consolidated events and terminal tasks afterwards")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidation(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, st, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []consolidation.Option{
		consolidation.WithGraph(consolidation.NewGraphSynthesizer(st)),
	}
	if engine, err := embedding.NewEngine(cfg.Embedding, cfg.LLM.APIKey); err != nil {
		fmt.Printf("Embeddings disabled: %v\n", err)
	} else {
		opts = append(opts, consolidation.WithEmbedder(engine))
	}
	if !consolidateHeuristicOnly {
		client, err := llm.NewGenAIClient(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("LLM client unavailable (use --heuristic-only): %w", err)
		}
		opts = append(opts, consolidation.WithSystem2(
			consolidation.NewSystem2(client, cfg.Consolidation.MaxPatternsPerCall)))
		if cfg.Consolidation.ValidationModel != "" {
			reviewCfg := cfg.LLM
			reviewCfg.Model = cfg.Consolidation.ValidationModel
			reviewer, err := llm.NewGenAIClient(ctx, reviewCfg)
			if err != nil {
				return fmt.Errorf("validation model unavailable: %w", err)
			}
			opts = append(opts, consolidation.WithReviewer(consolidation.NewReviewer(reviewer)))
		}
	}

	pipeline := consolidation.NewPipeline(st, cfg.Consolidation, opts...)
	report, err := pipeline.Run(ctx, project)
	if err != nil {
		return err
	}

	fmt.Printf("Events: %d in %d clusters\n", report.EventsProcessed, report.ClustersFormed)
	fmt.Printf("Patterns: %d extracted, %d rejected, %d deferred for review\n",
		report.PatternsExtracted, report.PatternsRejected, report.PatternsDeferred)
	fmt.Printf("System 2 calls: %d\n", report.System2Calls)
	fmt.Printf("Memory quality: %.2f -> %.2f\n", report.QualityBefore, report.QualityAfter)

	if consolidatePrune {
		if err := st.Maintain(30*24*time.Hour, 90*24*time.Hour); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
		fmt.Println("Maintenance done.")
	}
	return nil
}
