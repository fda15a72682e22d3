package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mapCmd = &cobra.Command{
	Use:   "map <instance> <map-or-workshop-id>",
	Short: "Change the map of a running instance",
	Long: `Change the map of a running instance.

A plain map name is loaded directly; an all-digit argument is treated as a
Steam Workshop content id, loaded with host_workshop_map and remembered in
the workshop-map cache.`,
	Example: `  # Load a stock map
  fleet map scrim-1 de_inferno

  # Load a workshop map by content id
  fleet map scrim-1 3070923343`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		if err := app.Manager.ChangeMap(cmd.Context(), inst.ID, args[1]); err != nil {
			return fmt.Errorf("change map: %w", err)
		}

		fmt.Printf("Instance %s is changing to %s\n", inst.Name, args[1])
		return nil
	},
}

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "List cached workshop maps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		maps, err := app.Workshop.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list workshop maps: %w", err)
		}

		if len(maps) == 0 {
			fmt.Println("No workshop maps cached")
			return nil
		}

		for _, m := range maps {
			file := m.MapFile
			if file == "" {
				file = "(unresolved)"
			}
			fmt.Printf("%s  %s  %s\n", m.WorkshopID, file, m.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(mapsCmd)
}
