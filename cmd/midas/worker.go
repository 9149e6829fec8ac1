package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piukhq/midas-sub000/internal/metrics"
	"github.com/piukhq/midas-sub000/internal/worker"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run join and login attempts from the work queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "worker")
			if err != nil {
				return err
			}
			defer a.Close()

			handler := worker.NewHandler(worker.Deps{
				Store:           a.store,
				Journeys:        a.runner,
				Failures:        a.reconciler.Coordinator,
				Callbacks:       a.reconciler,
				CallbackTimeout: a.cfg.CallbackTimeout,
				JobTimeout:      a.cfg.JobTimeout,
				Reporter:        a.reporter,
				Logger:          a.logger.With("component", "worker"),
			})

			srv := workqueue.NewServer(a.redisOpt, workqueue.ServerConfig{
				Queue:           a.cfg.WorkQueue,
				Concurrency:     a.cfg.WorkerConcurrency,
				ShutdownTimeout: a.cfg.ShutdownTimeout,
			}, a.logger)
			srv.Use(metrics.JobMiddleware)
			handler.Register(srv)

			if err := srv.Start(); err != nil {
				return fmt.Errorf("start worker server: %w", err)
			}
			a.logger.Info("worker started", "concurrency", a.cfg.WorkerConcurrency)

			<-ctx.Done()
			a.logger.Info("shutting down...")
			srv.Shutdown()
			a.logger.Info("worker stopped")
			return nil
		},
	}
}
