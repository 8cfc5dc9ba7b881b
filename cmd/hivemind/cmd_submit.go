package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hivemind/internal/types"
)

var (
	submitDescription string
	submitPriority    string
	submitDeadline    time.Duration
	submitTags        []string
	submitEstimate    float64
	submitDependsOn   []string
)

var submitCmd = &cobra.Command{
	Use:   "submit [title]",
	Short: "Create a task in the shared queue",
	Long: `Creates a pending task that any idle specialist of the matching type
can claim. Use "hivemind run <id>" to orchestrate it as a parent task
instead of leaving it to a single worker.`,
	Args: cobra.MinimumNArgs(1),
	RunE: submitTask,
}

func init() {
	submitCmd.Flags().StringVarP(&submitDescription, "description", "d", "", "task description")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "medium", "critical | high | medium | low")
	submitCmd.Flags().DurationVar(&submitDeadline, "deadline", 0, "deadline relative to now, e.g. 48h")
	submitCmd.Flags().StringSliceVar(&submitTags, "tag", nil, "tags, e.g. type:research or requires:go")
	submitCmd.Flags().Float64Var(&submitEstimate, "estimate", 0, "estimated hours")
	submitCmd.Flags().StringSliceVar(&submitDependsOn, "after", nil, "task ids this task depends on")
	rootCmd.AddCommand(submitCmd)
}

func parsePriority(s string) (types.TaskPriority, error) {
	switch types.TaskPriority(strings.ToLower(s)) {
	case types.PriorityCritical:
		return types.PriorityCritical, nil
	case types.PriorityHigh:
		return types.PriorityHigh, nil
	case types.PriorityMedium:
		return types.PriorityMedium, nil
	case types.PriorityLow:
		return types.PriorityLow, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

func submitTask(cmd *cobra.Command, args []string) error {
	priority, err := parsePriority(submitPriority)
	if err != nil {
		return err
	}

	_, st, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	t := &types.Task{
		Title:          strings.Join(args, " "),
		Description:    submitDescription,
		Priority:       priority,
		Tags:           submitTags,
		EstimatedHours: submitEstimate,
		DependsOn:      submitDependsOn,
	}
	if submitDeadline > 0 {
		d := time.Now().Add(submitDeadline).UTC()
		t.Deadline = &d
	}
	if err := st.CreateTask(t); err != nil {
		return err
	}
	fmt.Printf("Created task %s (%s, %s)\n", t.ID, t.Title, t.Priority)
	return nil
}
