package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/supervisor"
)

var banCmd = &cobra.Command{
	Use:   "ban <instance>",
	Short: "Ban a player and record it in the ban history",
	Long: `Ban a player through the server's admin plugin and record the ban.

The ban is enforced through several independent layers (session ban,
persistent SteamID ban, kick); a layer failing does not undo the others.
Target the player with --user-id (current session) and/or --steam-id
(persistent). Duration 0 means permanent.`,
	Example: `  # Ban a connected player for an hour
  fleet ban scrim-1 --user-id 3 --steam-id 7656119800000001 --duration 60 --reason "cheating"

  # Permanently ban an offline player by SteamID
  fleet ban scrim-1 --steam-id 7656119800000001 --reason "griefing"`,
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

		req := supervisor.BanRequest{}
		if req.UserID, err = cmd.Flags().GetInt("user-id"); err != nil {
			return fmt.Errorf("get user-id flag: %w", err)
		}
		if req.SteamID, err = cmd.Flags().GetString("steam-id"); err != nil {
			return fmt.Errorf("get steam-id flag: %w", err)
		}
		if req.PlayerName, err = cmd.Flags().GetString("name"); err != nil {
			return fmt.Errorf("get name flag: %w", err)
		}
		if req.Reason, err = cmd.Flags().GetString("reason"); err != nil {
			return fmt.Errorf("get reason flag: %w", err)
		}
		if req.DurationMinutes, err = cmd.Flags().GetInt("duration"); err != nil {
			return fmt.Errorf("get duration flag: %w", err)
		}
		if req.BannedBy, err = cmd.Flags().GetString("by"); err != nil {
			return fmt.Errorf("get by flag: %w", err)
		}

		if req.UserID == 0 && req.SteamID == "" {
			return fmt.Errorf("at least one of --user-id or --steam-id is required")
		}

		ban, err := app.Manager.Ban(cmd.Context(), inst.ID, req)
		if err != nil {
			return fmt.Errorf("ban player: %w", err)
		}

		if ban.ExpiresAt != nil {
			fmt.Printf("Banned until %s (record %s)\n", ban.ExpiresAt.Format("2006-01-02 15:04 MST"), ban.ID)
		} else {
			fmt.Printf("Banned permanently (record %s)\n", ban.ID)
		}
		return nil
	},
}

var bansCmd = &cobra.Command{
	Use:   "bans <instance>",
	Short: "Show an instance's ban history",
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

		bans, err := app.Store.ListBans(cmd.Context(), inst.ID)
		if err != nil {
			return fmt.Errorf("list bans: %w", err)
		}

		if len(bans) == 0 {
			fmt.Println("No bans recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "WHEN\tPLAYER\tSTEAM ID\tREASON\tDURATION\tBY"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, b := range bans {
			duration := "permanent"
			if b.DurationMinutes > 0 {
				duration = fmt.Sprintf("%dm", b.DurationMinutes)
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				b.CreatedAt.Format("2006-01-02 15:04"), b.PlayerName, b.SteamID, b.Reason, duration, b.BannedBy); err != nil {
				return fmt.Errorf("write ban: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(banCmd)
	rootCmd.AddCommand(bansCmd)

	banCmd.Flags().Int("user-id", 0, "session user id from 'fleet players'")
	banCmd.Flags().String("steam-id", "", "SteamID64 for a persistent ban")
	banCmd.Flags().String("name", "", "player name recorded in the ban history")
	banCmd.Flags().StringP("reason", "r", "", "ban reason")
	banCmd.Flags().IntP("duration", "d", 0, "ban duration in minutes (0 = permanent)")
	banCmd.Flags().String("by", "console", "issuing admin recorded in the ban history")
}
