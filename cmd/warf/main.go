package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"warf/internal/cli"

	_ "go.uber.org/automaxprocs"
)

func main() {
	// the engine shares our process group and receives the same signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
