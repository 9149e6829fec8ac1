package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/piukhq/midas-sub000/internal/api"
	midasgrpc "github.com/piukhq/midas-sub000/internal/grpc"
	"github.com/piukhq/midas-sub000/internal/scheduler"
	"github.com/piukhq/midas-sub000/internal/server"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve merchant callbacks, task operations, health and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "api")
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			redisChecker := workqueue.NewRedisChecker(a.redisOpt)
			defer redisChecker.Close()
			checkers := map[string]api.Checker{
				"postgres": a.store,
				"redis":    redisChecker,
				"hermes":   a.hermes,
			}

			// Start requeue sweeper
			sweeper, err := scheduler.New(a.store, a.queue, cfg.SweepSchedule, cfg.SweepGrace, cfg.CallbackTimeout,
				a.reporter, a.logger.With("component", "sweeper"))
			if err != nil {
				return err
			}
			sweeper.Start()
			defer sweeper.Stop()

			router := server.NewRouter(server.RouterDeps{
				Reconciler: a.reconciler,
				Tasks:      a.store,
				Queue:      a.queue,
				Checkers:   checkers,
				Logger:     a.logger,
			}, cfg)
			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 2)
			go func() {
				a.logger.Info("HTTP server listening", "port", cfg.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("http server: %w", err)
				}
			}()

			// Start gRPC health server
			grpcServer := grpc.NewServer()
			health := midasgrpc.NewHealth(api.NewSystemHandler(checkers), 10*time.Second, a.logger)
			health.Register(grpcServer)
			healthCtx, stopHealth := context.WithCancel(ctx)
			defer stopHealth()
			go health.Run(healthCtx)

			lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
			if err != nil {
				return fmt.Errorf("failed to listen for gRPC on %s: %w", cfg.GRPCPort, err)
			}
			go func() {
				a.logger.Info("gRPC health server listening", "port", cfg.GRPCPort)
				if err := grpcServer.Serve(lis); err != nil {
					errCh <- fmt.Errorf("grpc server: %w", err)
				}
			}()

			// Graceful shutdown
			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}

			a.logger.Info("shutting down...")
			sweeper.Stop()
			stopHealth()
			grpcServer.GracefulStop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", "error", err)
			}

			a.logger.Info("server stopped")
			return runErr
		},
	}
}
