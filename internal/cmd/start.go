package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <instance>",
	Short: "Start an instance",
	Long: `Start an instance's server process.

The command returns once the process is spawned; the instance is STARTING
until the engine answers its first RCON command, then ONLINE. Watch progress
with 'fleet list' or 'fleet logs -f'.`,
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

		if err := app.Manager.Start(cmd.Context(), inst.ID); err != nil {
			return fmt.Errorf("start instance: %w", err)
		}

		fmt.Printf("Instance %s is starting on port %d\n", inst.Name, inst.Port)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
