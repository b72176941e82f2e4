package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"solveeverylight/internal/app"
	"solveeverylight/internal/cli"
	"solveeverylight/internal/config"
	"solveeverylight/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cli.NewRootCmd(a).ExecuteContext(ctx)
	stop()
	_ = a.Close()
	if err != nil {
		os.Exit(1)
	}
}
