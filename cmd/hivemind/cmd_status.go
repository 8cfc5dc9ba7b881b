package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent tasks and registered agents",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of tasks to show")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	_, st, reg, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.ListRecentTasks(statusLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tPRIORITY\tAGENT\tPROGRESS\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			t.ID, t.Status, t.Priority, t.AssignedAgent, t.Progress, t.Title)
	}
	w.Flush()

	agents := reg.List()
	if len(agents) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Fprintln(w, "AGENT\tTYPE\tSTATUS\tTASK\tLAST HEARTBEAT")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Status, a.CurrentTaskID,
			a.LastHeartbeat.Format(time.RFC3339))
	}
	return w.Flush()
}
