package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hivemind/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration into the workspace",
	RunE:  initWorkspace,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

func initWorkspace(cmd *cobra.Command, args []string) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(workspace); err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	fmt.Println("Set HIVEMIND_API_KEY (or GEMINI_API_KEY) in the environment or a .env file.")
	return nil
}
