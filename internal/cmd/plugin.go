package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/plugin"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage server plugins",
	Long: `Manage server plugins on an instance.

Plugins form a small dependency chain: metamod (base framework), cssharp
(scripting platform, needs metamod), then matchzy and simpleadmin (need
cssharp). Installs check dependencies; presence is always probed from the
instance's files, never trusted from a stored flag.`,
}

var pluginStatusCmd = &cobra.Command{
	Use:   "status <instance>",
	Short: "Show which plugins are installed",
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

		status := app.Pipeline.Status(inst.ID)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "PLUGIN\tINSTALLED"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, id := range plugin.All {
			installed := "no"
			if status[id] {
				installed = "yes"
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\n", id, installed); err != nil {
				return fmt.Errorf("write plugin: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <instance> <plugin>",
	Short: "Install a plugin",
	Long: `Install a plugin onto an instance.

Installing an already-present plugin is a no-op. Installing a plugin whose
dependency is missing fails and names the missing dependency.`,
	Example: `  # Install the chain bottom-up
  fleet plugin install scrim-1 metamod
  fleet plugin install scrim-1 cssharp
  fleet plugin install scrim-1 matchzy`,
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

		id := plugin.ID(args[1])
		if err := app.Pipeline.Install(cmd.Context(), inst.ID, id); err != nil {
			var depErr *plugin.DependencyError
			if errors.As(err, &depErr) {
				return fmt.Errorf("install %s first: %w", depErr.Missing, err)
			}
			return fmt.Errorf("install plugin: %w", err)
		}

		fmt.Printf("Installed %s on %s\n", id, inst.Name)
		return nil
	},
}

var pluginUninstallCmd = &cobra.Command{
	Use:   "uninstall <instance> <plugin>",
	Short: "Uninstall a plugin",
	Long: `Uninstall a plugin from an instance.

Uninstalling a dependency while dependents remain is permitted; the
dependents are listed as a warning and will fail at their own runtime.`,
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

		id := plugin.ID(args[1])
		orphans, err := app.Pipeline.Uninstall(cmd.Context(), inst.ID, id)
		if err != nil {
			return fmt.Errorf("uninstall plugin: %w", err)
		}

		fmt.Printf("Uninstalled %s from %s\n", id, inst.Name)
		for _, orphan := range orphans {
			fmt.Printf("Warning: %s is still installed and depends on %s\n", orphan, id)
		}
		return nil
	},
}

var pluginUpdatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Check all plugins for upstream updates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		results := app.Pipeline.CheckUpdates(cmd.Context())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "PLUGIN\tPINNED\tLATEST\tUPDATE"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, id := range plugin.All {
			info := results[id]
			latest := info.LatestVersion
			update := "no"
			if info.HasUpdate {
				update = "yes"
			}
			if info.Err != "" {
				latest = "?"
				update = "check failed: " + info.Err
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, info.CurrentVersion, latest, update); err != nil {
				return fmt.Errorf("write update: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

var pluginUpdateCmd = &cobra.Command{
	Use:   "update <instance> <plugin>",
	Short: "Update a plugin to the latest upstream release",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		id := plugin.ID(args[1])
		if err := app.Pipeline.Update(cmd.Context(), inst.ID, id); err != nil {
			if errors.Is(err, plugin.ErrUpToDate) {
				fmt.Printf("%s is already up to date\n", id)
				return nil
			}
			return fmt.Errorf("update plugin: %w", err)
		}

		fmt.Printf("Updated %s on %s\n", id, inst.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginCmd)

	pluginCmd.AddCommand(pluginStatusCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginUninstallCmd)
	pluginCmd.AddCommand(pluginUpdatesCmd)
	pluginCmd.AddCommand(pluginUpdateCmd)
}
