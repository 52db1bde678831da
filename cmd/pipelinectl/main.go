package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/bootstrap"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/cli"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/logger"
)

func main() {
	bootstrap.LoadEnv()

	// stdout carries command output, so logs go to stderr.
	appLogger, err := logger.New(&logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, release := cli.NewRootCommand(
		cli.OpenServices(appLogger.Logger),
		bootstrap.DefaultConfigPath("PIPELINECTL_CONFIG_PATH", "configs/api-service/config.yaml"),
	)
	err = root.ExecuteContext(ctx)
	_ = release()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
