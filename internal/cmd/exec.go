package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <instance> <command>...",
	Short: "Run a console command on a running instance",
	Long: `Run a raw console command on a running instance over RCON and print
its output.`,
	Example: `  # Query the server status
  fleet exec scrim-1 status

  # Set a cvar
  fleet exec scrim-1 mp_autoteambalance 0`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		out, err := app.Manager.SendCommand(cmd.Context(), inst.ID, strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("execute command: %w", err)
		}

		if out != "" {
			fmt.Println(strings.TrimRight(out, "\n"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
