// Command chronolog inspects and administers row history for tracked tables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chronolog/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
