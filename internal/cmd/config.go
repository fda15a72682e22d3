package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/prompt"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Fleet configuration",
	Long:  `View and modify the Fleet configuration file.`,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configLoader == nil {
			return errors.New("configuration not initialized")
		}
		fmt.Println(configLoader.Path())
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Example: `  fleet config get server.install_dir
  fleet config get rcon.host`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if configLoader == nil {
			return errors.New("configuration not initialized")
		}

		val, err := configLoader.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

When the value is omitted for a secret key such as rcon.password, it is
prompted for interactively without echoing.`,
	Example: `  fleet config set server.default_map de_ancient
  fleet config set rcon.password`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if configLoader == nil {
			return errors.New("configuration not initialized")
		}

		key := args[0]

		var value string
		switch {
		case len(args) == 2:
			value = args[1]
		case isSecretKey(key):
			var err error
			value, err = prompt.New().Secret(fmt.Sprintf("Value for %s", key))
			if err != nil {
				if errors.Is(err, prompt.ErrCanceled) {
					fmt.Println("Aborted")
					return nil
				}
				return err
			}
		default:
			return fmt.Errorf("no value given for %s", key)
		}

		if err := configLoader.Set(key, value); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", key)
		return nil
	},
}

// isSecretKey reports whether a config key holds a credential that should
// never be echoed to the terminal.
func isSecretKey(key string) bool {
	return strings.HasSuffix(key, "password")
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
