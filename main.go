package main

import (
	"MPTestbed/cmd"
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// teardown runs on a context detached from this one
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
