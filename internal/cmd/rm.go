package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/prompt"
)

var rmCmd = &cobra.Command{
	Use:   "rm <instance>",
	Short: "Remove an instance",
	Long: `Remove an instance: its entire file tree, console logs, and record.

Destructive and irreversible. Refused unless the instance is OFFLINE.`,
	Example: `  # Remove with confirmation
  fleet rm scrim-1

  # Remove without confirmation
  fleet rm scrim-1 --force`,
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

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return fmt.Errorf("get force flag: %w", err)
		}

		if !force {
			confirmed, promptErr := prompt.New().Confirm(
				fmt.Sprintf("Remove instance %s?", inst.Name),
				"Deletes its server files, console logs, and record. This cannot be undone.",
			)
			if promptErr != nil {
				if errors.Is(promptErr, prompt.ErrCanceled) {
					fmt.Println("Aborted")
					return nil
				}
				return promptErr
			}
			if !confirmed {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := app.Manager.Delete(cmd.Context(), inst.ID); err != nil {
			return fmt.Errorf("remove instance: %w", err)
		}

		fmt.Printf("Removed instance %s\n", inst.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)

	rmCmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")
}
