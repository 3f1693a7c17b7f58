package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "assist",
		Usage: "Identity, session and realtime delivery server",
		Commands: []*cli.Command{
			serveCmd(),
			hashPasswordCmd(),
			setRoleCmd(),
			setActiveCmd(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "assist:", err)
		cancel()
		os.Exit(1)
	}
}
