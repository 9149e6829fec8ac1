package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/journey"
	"github.com/piukhq/midas-sub000/internal/metrics"
	"github.com/piukhq/midas-sub000/internal/tracing"
)

// Delivery is a received message and the function that acknowledges it.
type Delivery struct {
	Message
	Ack func(ctx context.Context) error
}

// Source is a message bus subscription.
type Source interface {
	// Receive blocks until at least one message arrives, the source's
	// wait elapses, or ctx is done.
	Receive(ctx context.Context) ([]Delivery, error)
	Close() error
}

// TaskCreator persists a new task.
type TaskCreator interface {
	Create(ctx context.Context, req *core.CreateRequest) (*core.RetryTask, error)
}

// Enqueuer schedules the first attempt of a task.
type Enqueuer interface {
	EnqueueNow(ctx context.Context, task *core.RetryTask) error
}

// Remover runs the account removal journey.
type Remover interface {
	Remove(ctx context.Context, rr journey.RemoveRequest)
}

// Consumer dispatches bus events. Every message is acknowledged after
// dispatch whether or not it succeeded; failures go to the reporter.
type Consumer struct {
	tasks    TaskCreator
	queue    Enqueuer
	remover  Remover
	reporter core.Reporter
	logger   *slog.Logger
	backoff  time.Duration
}

// NewConsumer creates a consumer.
func NewConsumer(tasks TaskCreator, queue Enqueuer, remover Remover, reporter core.Reporter, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = core.LogReporter{Logger: logger}
	}
	return &Consumer{
		tasks:    tasks,
		queue:    queue,
		remover:  remover,
		reporter: reporter,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Run receives from src until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, src Source) error {
	for {
		deliveries, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, d := range deliveries {
			c.Dispatch(ctx, d.Message)
			if d.Ack == nil {
				continue
			}
			if err := d.Ack(ctx); err != nil {
				c.logger.Warn("ack failed", "message_id", d.ID, "error", err)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Dispatch handles one message. It never returns an error: the message is
// acknowledged regardless.
func (c *Consumer) Dispatch(ctx context.Context, m Message) {
	typ := m.Type()
	ctx, span := tracing.StartConsumerSpan(ctx, "message "+typ)

	var err error
	switch typ {
	case TypeJoinRequested:
		err = c.joinRequested(ctx, m)
	case TypeAccountRemoved:
		err = c.accountRemoved(ctx, m)
	default:
		c.logger.WarnContext(ctx, "ignoring message of unknown type", "message_id", m.ID, "type", typ)
		metrics.MessagesConsumed.WithLabelValues("unknown", "ignored").Inc()
		tracing.End(span, nil)
		return
	}
	tracing.End(span, err)

	result := "ok"
	if err != nil {
		result = "error"
		c.reporter.Report(ctx, err, "message_id", m.ID, "type", typ)
	}
	metrics.MessagesConsumed.WithLabelValues(typ, result).Inc()
}

func (c *Consumer) joinRequested(ctx context.Context, m Message) error {
	ev, err := DecodeJoinRequested(m.Body)
	if err != nil {
		return err
	}
	req := ev.CreateRequest()
	if verr := core.ValidateCreateRequest(req); verr != nil {
		return fmt.Errorf("join event %s: %w", req.MessageUID, verr)
	}

	task, err := c.tasks.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create task for account %d: %w", req.SchemeAccountID, err)
	}
	metrics.TasksCreated.WithLabelValues(string(task.JourneyType), task.SchemeIdentifier).Inc()

	if err := c.queue.EnqueueNow(ctx, task); err != nil {
		// The task stays PENDING and the sweeper enqueues it later.
		return fmt.Errorf("enqueue first attempt for account %d: %w", task.SchemeAccountID, err)
	}

	c.logger.InfoContext(ctx, "join task created",
		"scheme_account_id", task.SchemeAccountID,
		"message_uid", task.MessageUID,
		"scheme", task.SchemeIdentifier,
	)
	return nil
}

func (c *Consumer) accountRemoved(ctx context.Context, m Message) error {
	ev, err := DecodeAccountRemoved(m.Body)
	if err != nil {
		return err
	}
	uid := ev.TransactionID
	if uid == "" {
		uid = core.NewMessageUID()
	}
	c.remover.Remove(ctx, journey.RemoveRequest{
		SchemeAccountID: ev.SchemeAccountID,
		Scheme:          ev.Scheme,
		MessageUID:      uid,
		UserInfo: core.UserInfo{
			BinkUserID:      ev.BinkUserID,
			Channel:         ev.Channel,
			SchemeAccountID: ev.SchemeAccountID,
		},
		Credentials: ev.Credentials,
	})
	return nil
}
