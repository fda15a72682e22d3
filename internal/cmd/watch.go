package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch running instances for state changes",
	Long: `Watch running instances for state changes.

Runs the reconciliation poller in the foreground and prints a line whenever
an instance's observed map or player count drifts from its record. The
poller only generates RCON traffic while at least one watcher is attached.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		updates, unsubscribe := app.Poller.Subscribe()
		defer unsubscribe()

		fmt.Println("Watching for changes (Ctrl-C to stop)")

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return app.Poller.Run(ctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case u := <-updates:
					fmt.Printf("%s: map=%s players=%d\n", u.InstanceID, u.Map, u.PlayerCount)
				}
			}
		})

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
