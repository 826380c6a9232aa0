package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/poachwatch/poachwatch/cmd"
	"github.com/poachwatch/poachwatch/internal/buildinfo"
	"github.com/poachwatch/poachwatch/internal/conf"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(&conf.Settings{}, buildinfo.Current())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
