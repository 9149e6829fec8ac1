package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/piukhq/midas-sub000/internal/agents"
	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/journey"
	"github.com/piukhq/midas-sub000/internal/metrics"
	"github.com/piukhq/midas-sub000/internal/publish"
	"github.com/piukhq/midas-sub000/internal/retry"
	"github.com/piukhq/midas-sub000/internal/server"
	"github.com/piukhq/midas-sub000/internal/state"
	"github.com/piukhq/midas-sub000/internal/tracing"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

// app holds the collaborators shared by every process.
type app struct {
	cfg      server.Config
	logger   *slog.Logger
	db       *gorm.DB
	store    *state.GormStore
	redisOpt asynq.RedisClientOpt
	queue    *workqueue.Client
	pool     *publish.Pool
	hermes   *publish.HermesClient
	reporter core.Reporter

	runner     *journey.Runner
	reconciler *retry.Reconciler

	closers []func()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return logger
}

// newApp loads configuration and connects the shared dependencies.
func newApp(ctx context.Context, process string) (*app, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg.LogLevel).With("process", process)

	a := &app{cfg: cfg, logger: logger}

	shutdownTracing, err := tracing.Setup("midas-" + process)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	metrics.Init(core.Version, process)

	a.db, err = state.OpenPostgres(cfg.DatabaseDSN, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, err
	}
	a.store = state.NewGormStore(a.db, cfg.DBTxAttempts, logger)

	a.redisOpt = workqueue.RedisOptions(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	a.queue = workqueue.NewClient(a.redisOpt, workqueue.ClientOptions{
		Queue:    cfg.WorkQueue,
		MaxRetry: 3,
		Timeout:  cfg.JobTimeout,
	}, logger)
	a.closers = append(a.closers, func() { _ = a.queue.Close() })

	a.reporter = metrics.Reporter{Logger: logger}
	a.hermes = publish.NewHermesClient(cfg.Hermes)
	a.pool = publish.NewPool(cfg.PublishWorkers)
	a.closers = append(a.closers, a.pool.Close)
	publisher := publish.NewPublisher(a.pool, a.hermes, logger)

	ledger, err := a.ledger(ctx)
	if err != nil {
		return nil, err
	}

	registry := agents.Default()
	observer := core.Observers{metrics.Observer{}, tracing.Observer{}}
	coordinator := retry.NewCoordinator(retry.Deps{
		Store:    a.store,
		Queue:    a.queue,
		Policy:   cfg.Retry,
		Notifier: publisher,
		Ledger:   ledger,
		Observer: observer,
		Reporter: a.reporter,
		Logger:   logger.With("component", "retry"),
	})
	a.runner = journey.NewRunner(journey.Deps{
		Store:     a.store,
		Registry:  registry,
		Publisher: publisher,
		Observer:  observer,
		Reporter:  a.reporter,
		Logger:    logger.With("component", "journey"),
	})
	a.reconciler = retry.NewReconciler(coordinator, a.runner)

	logger.Info("midas ready",
		"version", core.Version,
		"queue", cfg.WorkQueue,
		"schemes", registry.Slugs(),
		"ledger", cfg.LedgerTable != "",
	)
	return a, nil
}

func (a *app) ledger(ctx context.Context) (state.Ledger, error) {
	if a.cfg.LedgerTable == "" {
		return state.NopLedger{}, nil
	}
	client, err := a.dynamo(ctx)
	if err != nil {
		return nil, err
	}
	return state.NewDynamoLedger(client, a.cfg.LedgerTable, 0), nil
}

func (a *app) dynamo(ctx context.Context) (*dynamodb.Client, error) {
	awsCfg, err := buildAWSConfig(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure AWS: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func buildAWSConfig(ctx context.Context, cfg server.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
	}

	// For LocalStack or custom endpoints
	if cfg.AWSEndpointURL != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.AWSEndpointURL,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)
		opts = append(opts,
			config.WithEndpointResolverWithOptions(customResolver),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	return config.LoadDefaultConfig(ctx, opts...)
}
