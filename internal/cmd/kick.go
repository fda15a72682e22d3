package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var kickCmd = &cobra.Command{
	Use:   "kick <instance> <user-id>",
	Short: "Kick a player from a running instance",
	Long: `Kick a player by session user id.

User ids come from 'fleet players' and are only valid for the player's
current session.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[1])
		}

		reason, err := cmd.Flags().GetString("reason")
		if err != nil {
			return fmt.Errorf("get reason flag: %w", err)
		}

		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		if err := app.Manager.Kick(cmd.Context(), inst.ID, userID, reason); err != nil {
			return fmt.Errorf("kick player: %w", err)
		}

		fmt.Printf("Kicked player %d from %s\n", userID, inst.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(kickCmd)

	kickCmd.Flags().StringP("reason", "r", "", "reason shown to the kicked player")
}
