package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/quatrix/fleet/internal/store"
)

func requireApp(ctx context.Context) (*App, error) {
	app := AppFromContext(ctx)
	if app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}

// findInstance resolves an id-or-name argument to an instance record.
func findInstance(ctx context.Context, app *App, idOrName string) (*store.Instance, error) {
	inst, err := app.Store.GetInstance(ctx, idOrName)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get instance: %w", err)
	}

	instances, err := app.Store.ListInstances(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	for i := range instances {
		if instances[i].Name == idOrName {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("no instance with id or name %q", idOrName)
}
