package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Browse and edit an instance's files",
	Long: `Browse and edit files inside an instance's game directory.

All paths are relative to the instance's game/csgo directory and are
confined to it; attempts to escape it are rejected.`,
}

var filesLsCmd = &cobra.Command{
	Use:   "ls <instance> [path]",
	Short: "List a directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}

		inst, err := findInstance(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}

		relDir := "."
		if len(args) == 2 {
			relDir = args[1]
		}

		entries, err := app.Gateway.List(inst.ID, relDir)
		if err != nil {
			return fmt.Errorf("list directory: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			kind := "file"
			if e.IsDir {
				kind = "dir"
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", kind, e.Name, e.Size); err != nil {
				return fmt.Errorf("write entry: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

var filesCatCmd = &cobra.Command{
	Use:   "cat <instance> <path>",
	Short: "Print a file",
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

		content, err := app.Gateway.ReadFile(inst.ID, args[1])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}

		if _, err := os.Stdout.Write(content); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	},
}

var filesWriteCmd = &cobra.Command{
	Use:   "write <instance> <path>",
	Short: "Write stdin to a file",
	Example: `  # Replace a config from a local file
  fleet files write scrim-1 cfg/server.cfg < server.cfg`,
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

		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}

		if err := app.Gateway.WriteFile(inst.ID, args[1], content); err != nil {
			return fmt.Errorf("write file: %w", err)
		}

		fmt.Printf("Wrote %d bytes to %s\n", len(content), args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)

	filesCmd.AddCommand(filesLsCmd)
	filesCmd.AddCommand(filesCatCmd)
	filesCmd.AddCommand(filesWriteCmd)
}
