package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/names"
	"github.com/quatrix/fleet/internal/store"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Register a new server instance",
	Long: `Register a new server instance record.

When no name is given a random one is generated. The instance starts OFFLINE
with no game files; run 'fleet install' next to provision it through SteamCMD.`,
	Example: `  # Register an instance with a generated name
  fleet new

  # Register an instance on a specific port with a starting map
  fleet new retakes --port 27020 --map de_mirage`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return fmt.Errorf("get port flag: %w", err)
		}
		mapName, err := cmd.Flags().GetString("map")
		if err != nil {
			return fmt.Errorf("get map flag: %w", err)
		}

		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		var name string
		if len(args) > 0 {
			name = args[0]
		} else {
			name, err = generateInstanceName(cmd.Context(), app)
			if err != nil {
				return err
			}
		}

		inst := &store.Instance{
			ID:   uuid.NewString(),
			Name: name,
			Port: port,
			Map:  mapName,
		}
		if err := app.Store.AddInstance(cmd.Context(), inst); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("instance %q already exists", name)
			}
			return fmt.Errorf("create instance: %w", err)
		}

		fmt.Printf("Created instance %s (%s) on port %d\n", inst.Name, inst.ID, inst.Port)
		fmt.Printf("Run 'fleet install %s' to provision its server files\n", inst.Name)
		return nil
	},
}

// generateInstanceName picks a random name not already used by an instance.
func generateInstanceName(ctx context.Context, app *App) (string, error) {
	instances, err := app.Store.ListInstances(ctx, "")
	if err != nil {
		return "", fmt.Errorf("list instances: %w", err)
	}

	existing := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		existing[inst.Name] = struct{}{}
	}

	name, err := names.Unique(func(n string) bool {
		_, taken := existing[n]
		return taken
	}, 0)
	if err != nil {
		return "", fmt.Errorf("generate instance name: %w", err)
	}
	return name, nil
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().IntP("port", "p", 27015, "game port the instance listens on")
	newCmd.Flags().StringP("map", "m", "", "starting map (defaults to the configured default map)")
}
