// Package cmd implements the Fleet CLI commands using Cobra.
// It provides commands for managing game-server instances: provisioning,
// lifecycle control, plugin management, and live-server administration.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quatrix/fleet/internal/archive"
	"github.com/quatrix/fleet/internal/config"
	fleetexec "github.com/quatrix/fleet/internal/exec"
	"github.com/quatrix/fleet/internal/gateway"
	"github.com/quatrix/fleet/internal/logging"
	"github.com/quatrix/fleet/internal/plugin"
	"github.com/quatrix/fleet/internal/provision"
	"github.com/quatrix/fleet/internal/rcon"
	"github.com/quatrix/fleet/internal/reconcile"
	"github.com/quatrix/fleet/internal/slogger"
	"github.com/quatrix/fleet/internal/store"
	"github.com/quatrix/fleet/internal/supervisor"
	"github.com/quatrix/fleet/internal/workshop"
)

// appConfig holds the loaded application configuration.
var appConfig *config.Config

// configLoader is used by the config command for get/set access.
var configLoader *config.Loader

// verbosity is bound to the -v flag.
var verbosity int

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Manage a fleet of CS2 dedicated servers",
	Long: `Fleet provisions, supervises, and administers CS2 dedicated server
instances on the local host.

Each instance owns its own install tree, console log, and RCON connection;
operations on different instances run fully in parallel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		app, err := initApp()
		if err != nil {
			return err
		}

		// Store dependencies in context for subcommands
		ctx := cmd.Context()
		ctx = slogger.WithLogger(ctx, slogger.New(slogger.Config{Verbosity: verbosity}))
		ctx = WithApp(ctx, app)
		cmd.SetContext(ctx)

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app := AppFromContext(cmd.Context()); app != nil {
			return app.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with the given context. Cancellation
// (e.g. an interrupt signal) propagates to long-running subcommands like
// 'watch' and 'logs -f'.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
}

func initConfig() {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		return
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config validation failed: %v\n", err)
	}

	appConfig = cfg
	configLoader = loader
}

// initApp wires up the full component graph from the loaded configuration.
func initApp() (*App, error) {
	cfg := appConfig
	if cfg == nil {
		// Config failed to load; fall back to defaults so read-only
		// commands still work.
		loader, err := config.NewLoader()
		if err != nil {
			return nil, err
		}
		cfg, err = loader.Load()
		if err != nil {
			return nil, err
		}
	}

	st, err := store.Connect(cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	gw := gateway.New(cfg.Server.InstallDir)
	logs := logging.NewPathManager(cfg.Storage.Logs)

	pool := rcon.NewPool(rcon.Config{
		Password:    cfg.Rcon.Password,
		DialTimeout: time.Duration(cfg.Rcon.DialTimeout) * time.Second,
		ExecTimeout: time.Duration(cfg.Rcon.ExecTimeout) * time.Second,
	})

	prov := provision.New(fleetexec.New(),
		provision.WithBinary(cfg.Steam.Binary),
		provision.WithAppID(cfg.Steam.AppID),
	)

	resolver := workshop.New(st)

	manager := supervisor.New(supervisor.Config{
		GameBinary:     cfg.Server.Binary,
		RconHost:       cfg.Rcon.Host,
		RconPassword:   cfg.Rcon.Password,
		DefaultMap:     cfg.Server.DefaultMap,
		StartupTimeout: time.Duration(cfg.Server.StartupTimeout) * time.Second,
		StopGrace:      time.Duration(cfg.Server.StopGrace) * time.Second,
		ExtraArgs:      cfg.Server.ExtraArgs,
	}, st, gw, pool, prov, resolver, logs)

	pipeline := plugin.NewPipeline(gw, archive.New(), plugin.NewFeed(), st)

	poller := reconcile.New(reconcile.Config{
		Interval:     time.Duration(cfg.Poll.Interval) * time.Second,
		QueryTimeout: time.Duration(cfg.Poll.QueryTimeout) * time.Second,
		RconHost:     cfg.Rcon.Host,
	}, st, pool)

	return &App{
		Config:   cfg,
		Loader:   configLoader,
		Store:    st,
		Gateway:  gw,
		Logs:     logs,
		Rcon:     pool,
		Manager:  manager,
		Pipeline: pipeline,
		Poller:   poller,
		Workshop: resolver,
	}, nil
}
