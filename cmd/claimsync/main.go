package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "claimsync:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "claimsync",
		Usage: "import e-Claim reports and payment statements, reconcile claims",
		Commands: []*cli.Command{
			importCommand(),
			analyzeCommand(),
			statusCommand(),
			reconcileCommand(),
			manualCommand(),
			migrateCommand(),
			serveCommand(),
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if exitErr, ok := err.(cli.ExitCoder); ok {
				if msg := exitErr.Error(); msg != "" {
					fmt.Fprintln(os.Stderr, msg)
				}
				os.Exit(exitErr.ExitCode())
			}
		},
	}
}
