package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/piukhq/midas-sub000/internal/bus"
)

func consumerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consumer",
		Short: "Turn loyalty card events into retry tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "consumer")
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := a.source(ctx)
			if err != nil {
				return err
			}
			defer src.Close()

			consumer := bus.NewConsumer(a.store, a.queue, a.runner, a.reporter, a.logger.With("component", "consumer"))
			a.logger.Info("consumer started", "bus", a.cfg.MessageBus)
			if err := consumer.Run(ctx, src); err != nil {
				return err
			}
			a.logger.Info("consumer stopped")
			return nil
		},
	}
}

func (a *app) source(ctx context.Context) (bus.Source, error) {
	switch a.cfg.MessageBus {
	case "kafka":
		reader := bus.NewKafkaReader(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.cfg.KafkaGroupID)
		a.logger.Info("kafka source ready", "brokers", a.cfg.KafkaBrokers, "topic", a.cfg.KafkaTopic)
		return bus.NewKafkaSource(reader), nil
	default:
		awsCfg, err := buildAWSConfig(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure AWS: %w", err)
		}
		src, err := bus.NewSQSSource(ctx, sqs.NewFromConfig(awsCfg), a.cfg.SQSQueueName, int32(a.cfg.SQSWaitSeconds))
		if err != nil {
			return nil, err
		}
		a.logger.Info("SQS source ready", "queue", a.cfg.SQSQueueName, "region", a.cfg.AWSRegion)
		return src, nil
	}
}
