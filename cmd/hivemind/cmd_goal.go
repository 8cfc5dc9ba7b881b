package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hivemind/internal/executive"
	"hivemind/internal/orchestrator"
	"hivemind/internal/types"
)

var (
	goalPriority int
	goalDeadline time.Duration
	goalParent   string
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage executive goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Create an active goal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  addGoal,
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active goals for the project",
	RunE:  listGoals,
}

var goalNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Rank active goals by priority, urgency, and progress",
	RunE:  nextGoal,
}

func init() {
	goalAddCmd.Flags().IntVar(&goalPriority, "priority", 5, "priority 1-10")
	goalAddCmd.Flags().DurationVar(&goalDeadline, "deadline", 0, "deadline relative to now")
	goalAddCmd.Flags().StringVar(&goalParent, "parent", "", "parent goal id")
	goalCmd.AddCommand(goalAddCmd, goalListCmd, goalNextCmd)
	rootCmd.AddCommand(goalCmd)
}

func addGoal(cmd *cobra.Command, args []string) error {
	_, st, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	g := &types.Goal{
		Project:  project,
		Text:     strings.Join(args, " "),
		Type:     types.GoalPrimary,
		Priority: goalPriority,
		ParentID: goalParent,
	}
	if goalParent != "" {
		g.Type = types.GoalSubgoal
	}
	if goalDeadline > 0 {
		d := time.Now().Add(goalDeadline).UTC()
		g.Deadline = &d
	}
	if err := executive.NewGoalHierarchy(st).Create(g); err != nil {
		return err
	}
	fmt.Printf("Created goal %s (%s)\n", g.ID, g.Text)
	return nil
}

func listGoals(cmd *cobra.Command, args []string) error {
	_, st, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	goals, err := executive.NewGoalHierarchy(st).Active(project)
	if err != nil {
		return err
	}
	for _, g := range goals {
		deadline := "none"
		if g.Deadline != nil {
			deadline = time.Until(*g.Deadline).Round(time.Hour).String()
		}
		fmt.Printf("%s  p%d  %3.0f%%  deadline %s  %s\n",
			g.ID, g.Priority, g.Progress*100, deadline, g.Text)
	}
	return nil
}

func nextGoal(cmd *cobra.Command, args []string) error {
	_, st, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	bridge := orchestrator.NewBridge(st, executive.NewStrategySelector(st))
	recs, err := bridge.RecommendNextGoal(project)
	if err != nil {
		return err
	}
	for i, r := range recs {
		marker := " "
		if r.OnTrack {
			marker = "*"
		}
		fmt.Printf("%d. [%.3f]%s %s  %s\n", i+1, r.Score, marker, r.Goal.ID, r.Goal.Text)
	}
	return nil
}
