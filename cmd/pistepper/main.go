package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp().command().ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}
