package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/castfetch/castfetch/cmd"
	"github.com/castfetch/castfetch/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	// An interrupted transfer ends as Cancelled and keeps its partial file
	// for the next run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCMD.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
