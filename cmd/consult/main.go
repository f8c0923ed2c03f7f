// Package main is the consult CLI: it owns a voice avatar session or
// forwards commands to the process that does.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/consult/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
