package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// defaultTailLines is how many lines 'fleet logs' shows by default.
const defaultTailLines = 100

var logsCmd = &cobra.Command{
	Use:   "logs <instance>",
	Short: "View an instance's console output",
	Long: `View an instance's captured console output.

Reads from the instance's console log file, so it works whether or not the
process is currently running.`,
	Example: `  # View recent output (last 100 lines)
  fleet logs scrim-1

  # Follow output in real-time
  fleet logs scrim-1 -f

  # Show last 500 lines
  fleet logs scrim-1 -n 500`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, err := cmd.Flags().GetBool("follow")
		if err != nil {
			return fmt.Errorf("get follow flag: %w", err)
		}

		lines, err := cmd.Flags().GetInt("lines")
		if err != nil {
			return fmt.Errorf("get lines flag: %w", err)
		}

		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		if !app.Logs.LogExists(inst.ID) {
			return fmt.Errorf("no console log for instance %s (never started?)", inst.Name)
		}

		logLines, err := app.Logs.ReadLastN(inst.ID, lines)
		if err != nil {
			return fmt.Errorf("read console log: %w", err)
		}
		for _, line := range logLines {
			fmt.Println(line)
		}

		if !follow {
			return nil
		}

		err = app.Logs.Follow(cmd.Context(), inst.ID, cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().BoolP("follow", "f", false, "follow console output in real-time")
	logsCmd.Flags().IntP("lines", "n", defaultTailLines, "number of lines to show")
}
