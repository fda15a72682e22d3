package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var playersCmd = &cobra.Command{
	Use:   "players <instance>",
	Short: "List players connected to a running instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		players, err := app.Manager.Players(cmd.Context(), inst.ID)
		if err != nil {
			return fmt.Errorf("query players: %w", err)
		}

		if len(players) == 0 {
			fmt.Println("No players connected")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "ID\tNAME\tPING\tLOSS\tSTATE\tADDR"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, p := range players {
			if _, err := fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
				p.UserID, p.Name, p.Ping, p.Loss, p.State, p.Addr); err != nil {
				return fmt.Errorf("write player: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(playersCmd)
}
