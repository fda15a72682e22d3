// Command fleet is the CLI entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quatrix/fleet/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
