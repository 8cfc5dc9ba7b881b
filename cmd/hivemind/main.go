package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string
	project   string
	timeout   time.Duration

	// Logger for the CLI surface; subsystem logs go through the category
	// logger under .hivemind/logs/.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "hivemind - autonomous multi-agent coordination runtime",
	Long: `hivemind coordinates a swarm of specialist agents over a shared SQLite
store: tasks are claimed atomically, an orchestrator decomposes parent tasks
through the planner, episodic experience is consolidated into semantic
memory, and a predictor estimates risk before execution.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// API keys may live in a local .env during development.
		_ = godotenv.Load()

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&project, "project", "p", "", "project label for memories and goals")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall command timeout")
}

// commandContext returns a context cancelled by SIGINT/SIGTERM and bounded by
// the global timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
