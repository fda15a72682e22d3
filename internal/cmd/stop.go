package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <instance>",
	Short: "Stop an instance",
	Long: `Stop an instance's server process.

Requests a graceful shutdown over RCON first, then kills the process after
the configured grace period. The instance always settles OFFLINE.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		if err := app.Manager.Stop(cmd.Context(), inst.ID); err != nil {
			return fmt.Errorf("stop instance: %w", err)
		}

		fmt.Printf("Instance %s stopped\n", inst.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
