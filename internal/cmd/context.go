package cmd

import (
	"context"

	"github.com/quatrix/fleet/internal/config"
	"github.com/quatrix/fleet/internal/gateway"
	"github.com/quatrix/fleet/internal/logging"
	"github.com/quatrix/fleet/internal/plugin"
	"github.com/quatrix/fleet/internal/rcon"
	"github.com/quatrix/fleet/internal/reconcile"
	"github.com/quatrix/fleet/internal/store"
	"github.com/quatrix/fleet/internal/supervisor"
	"github.com/quatrix/fleet/internal/workshop"
)

type contextKey string

const appKey contextKey = "app"

// App bundles the wired component graph shared by all subcommands.
type App struct {
	Config   *config.Config
	Loader   *config.Loader
	Store    *store.Store
	Gateway  *gateway.Gateway
	Logs     *logging.PathManager
	Rcon     *rcon.Pool
	Manager  *supervisor.Manager
	Pipeline *plugin.Pipeline
	Poller   *reconcile.Poller
	Workshop *workshop.Resolver
}

// Close releases resources held by the App.
func (a *App) Close() error {
	a.Rcon.CloseAll()
	return a.Store.Close()
}

// WithApp adds the app to the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// AppFromContext retrieves the app from context.
func AppFromContext(ctx context.Context) *App {
	app, ok := ctx.Value(appKey).(*App)
	if !ok {
		return nil
	}
	return app
}
