package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Enqueuer schedules journey executions.
type Enqueuer interface {
	EnqueueNow(ctx context.Context, task *core.RetryTask) error
	EnqueueAt(ctx context.Context, task *core.RetryTask, at time.Time) error
	// Requeue enqueues an immediate run that does not collide with a job
	// already scheduled for the same attempt.
	Requeue(ctx context.Context, task *core.RetryTask) error
	EnqueueCallbackConfirm(ctx context.Context, task *core.RetryTask, at time.Time) error
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Queue string
	// MaxRetry bounds asynq's own redelivery of a job whose handler returned
	// an infrastructure error. Journey failures never reach asynq.
	MaxRetry int
	Timeout  time.Duration
}

// Client wraps asynq.Client with deterministic job ids.
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a work queue client.
func NewClient(redisOpt asynq.RedisConnOpt, opts ClientOptions, logger *slog.Logger) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    q,
		maxRetry: opts.MaxRetry,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

func (c *Client) EnqueueNow(ctx context.Context, task *core.RetryTask) error {
	taskType := TypeFor(task.JourneyType)
	return c.enqueue(ctx, taskType, JobID(taskType, task), PayloadFor(task))
}

func (c *Client) EnqueueAt(ctx context.Context, task *core.RetryTask, at time.Time) error {
	taskType := TypeFor(task.JourneyType)
	return c.enqueue(ctx, taskType, JobID(taskType, task), PayloadFor(task), asynq.ProcessAt(at))
}

func (c *Client) Requeue(ctx context.Context, task *core.RetryTask) error {
	taskType := TypeFor(task.JourneyType)
	id := JobID(taskType, task, "requeue", strconv.FormatInt(time.Now().UnixNano(), 10))
	return c.enqueue(ctx, taskType, id, PayloadFor(task))
}

func (c *Client) EnqueueCallbackConfirm(ctx context.Context, task *core.RetryTask, at time.Time) error {
	return c.enqueue(ctx, TypeCallbackConfirm, JobID(TypeCallbackConfirm, task), PayloadFor(task), asynq.ProcessAt(at))
}

// RequeueCallbackConfirm fires the callback deadline of task now, under an
// id that cannot collide with the original deadline job.
func (c *Client) RequeueCallbackConfirm(ctx context.Context, task *core.RetryTask) error {
	id := JobID(TypeCallbackConfirm, task, "requeue", strconv.FormatInt(time.Now().UnixNano(), 10))
	return c.enqueue(ctx, TypeCallbackConfirm, id, PayloadFor(task))
}

func (c *Client) enqueue(ctx context.Context, taskType, id string, payload Payload, options ...asynq.Option) error {
	if c.client == nil {
		return fmt.Errorf("nil asynq client")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	opts := append([]asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(id),
		asynq.MaxRetry(c.maxRetry),
	}, options...)
	if c.timeout > 0 {
		opts = append(opts, asynq.Timeout(c.timeout))
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, payloadBytes), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			c.logger.Debug("job already scheduled", "job_id", id, "scheme_account_id", payload.SchemeAccountID)
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	c.logger.Debug("job enqueued",
		"job_id", info.ID,
		"type", taskType,
		"queue", info.Queue,
		"state", info.State.String(),
		"process_at", info.NextProcessAt,
		"scheme_account_id", payload.SchemeAccountID,
	)
	return nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
