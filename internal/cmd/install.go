package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quatrix/fleet/internal/provision"
	"github.com/quatrix/fleet/internal/slogger"
	"github.com/quatrix/fleet/internal/spinner"
)

var installCmd = &cobra.Command{
	Use:   "install <instance>",
	Short: "Install or validate an instance's server files",
	Long: `Install or validate an instance's server files through SteamCMD.

The instance is INSTALLING for the duration and returns to OFFLINE when
done. Re-running on an installed instance validates existing files and only
downloads what is missing or stale.`,
	Example: `  # Provision a freshly created instance
  fleet install scrim-1`,
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

		quiet, err := cmd.Flags().GetBool("quiet")
		if err != nil {
			return fmt.Errorf("get quiet flag: %w", err)
		}

		switch {
		case quiet:
			err = app.Manager.Install(cmd.Context(), inst.ID, nil)
		case term.IsTerminal(int(os.Stderr.Fd())):
			err = installWithSpinner(cmd, app, inst.ID)
		default:
			// Piped output: print each progress line instead of redrawing.
			err = app.Manager.Install(cmd.Context(), inst.ID, func(p provision.Progress) {
				fmt.Fprintln(os.Stderr, p.Line)
			})
		}
		if err != nil {
			return fmt.Errorf("install instance: %w", err)
		}

		fmt.Printf("Instance %s installed\n", inst.Name)
		return nil
	},
}

// installWithSpinner runs the install while a single-line progress ticker
// redraws the latest SteamCMD output in place.
func installWithSpinner(cmd *cobra.Command, app *App, instanceID string) error {
	tick := spinner.New(os.Stderr)

	installErr := make(chan error, 1)
	go func() {
		installErr <- app.Manager.Install(cmd.Context(), instanceID, func(p provision.Progress) {
			tick.Publish(p.Percent, p.Line)
		})
		tick.Stop()
	}()

	if err := tick.Start(); err != nil {
		slogger.L(cmd.Context()).Warn("progress display failed", "error", err)
	}

	return <-installErr
}

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().BoolP("quiet", "q", false, "suppress SteamCMD progress output")
}
