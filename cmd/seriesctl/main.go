package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"paytrack/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}
