package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/verus-network/vrscx/app/explorer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := explorer.Initialize(ctx)
	if err != nil {
		os.Exit(1)
	}

	app.Start(ctx)
}
