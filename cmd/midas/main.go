package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/piukhq/midas-sub000/internal/core"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "midas",
		Short:         "Midas - loyalty scheme join and login orchestration",
		Version:       core.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(consumerCmd())
	rootCmd.AddCommand(apiCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
