package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	Long: `List instances managed by Fleet.

Use --status to filter by lifecycle state.`,
	Example: `  # List all instances
  fleet list

  # List only running instances
  fleet list --status ONLINE`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, err := cmd.Flags().GetString("status")
		if err != nil {
			return fmt.Errorf("get status flag: %w", err)
		}

		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		instances, err := app.Store.ListInstances(cmd.Context(), store.Status(statusFilter))
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}

		if len(instances) == 0 {
			fmt.Println("No instances found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "NAME\tID\tPORT\tSTATUS\tMAP\tPLAYERS"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, inst := range instances {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
				inst.Name, inst.ID, inst.Port, inst.Status, inst.Map, inst.PlayerCount); err != nil {
				return fmt.Errorf("write instance: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("status", "", "filter by status (OFFLINE, STARTING, ONLINE, INSTALLING)")
}
