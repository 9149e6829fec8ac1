// Package worker executes the journeys named by work queue jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/piukhq/midas-sub000/internal/agents"
	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/journey"
	"github.com/piukhq/midas-sub000/internal/state"
	"github.com/piukhq/midas-sub000/internal/tracing"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

// Journeys runs the business flows.
type Journeys interface {
	Join(ctx context.Context, task *core.RetryTask) (*agents.JoinResult, error)
	Login(ctx context.Context, task *core.RetryTask) error
}

// FailureHandler is the retry path for a failed journey.
type FailureHandler interface {
	HandleFailure(ctx context.Context, task *core.RetryTask, cause error) (core.Status, *time.Time, error)
	Fail(ctx context.Context, task *core.RetryTask, kind core.ErrorKind) error
}

// CallbackHandler parks async joins and expires them.
type CallbackHandler interface {
	AwaitCallback(ctx context.Context, task *core.RetryTask, timeout time.Duration) error
	ConfirmTimeout(ctx context.Context, p workqueue.Payload) error
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Store           state.Store
	Journeys        Journeys
	Failures        FailureHandler
	Callbacks       CallbackHandler
	CallbackTimeout time.Duration

	// JobTimeout bounds one run. A row left IN_PROGRESS for longer belongs
	// to a run that died and may be reclaimed.
	JobTimeout time.Duration
	Reporter   core.Reporter
	Logger     *slog.Logger
}

// Handler processes attempt and callback-confirmation jobs. Journey errors
// are handed to the failure handler and never returned to the queue; only
// infrastructure errors are, so asynq's own redelivery covers them.
type Handler struct {
	store           state.Store
	journeys        Journeys
	failures        FailureHandler
	callbacks       CallbackHandler
	callbackTimeout time.Duration
	jobTimeout      time.Duration
	reporter        core.Reporter
	logger          *slog.Logger
	now             func() time.Time
}

// NewHandler creates a job handler.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		store:           d.Store,
		journeys:        d.Journeys,
		failures:        d.Failures,
		callbacks:       d.Callbacks,
		callbackTimeout: d.CallbackTimeout,
		jobTimeout:      d.JobTimeout,
		reporter:        d.Reporter,
		logger:          d.Logger,
		now:             time.Now,
	}
	if h.callbackTimeout <= 0 {
		h.callbackTimeout = time.Hour
	}
	if h.jobTimeout <= 0 {
		h.jobTimeout = 10 * time.Minute
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.reporter == nil {
		h.reporter = core.LogReporter{Logger: h.logger}
	}
	return h
}

// Mux is where the handler registers its task types.
type Mux interface {
	Handle(taskType string, h asynq.Handler)
}

// Register installs the handler's task types on mux.
func (h *Handler) Register(mux Mux) {
	mux.Handle(workqueue.TypeAttemptJoin, asynq.HandlerFunc(h.ProcessJoin))
	mux.Handle(workqueue.TypeAttemptLogin, asynq.HandlerFunc(h.ProcessLogin))
	mux.Handle(workqueue.TypeCallbackConfirm, asynq.HandlerFunc(h.ProcessCallbackConfirm))
}

// ProcessJoin runs one join attempt.
func (h *Handler) ProcessJoin(ctx context.Context, t *asynq.Task) error {
	return h.process(ctx, t, func(ctx context.Context, task *core.RetryTask) error {
		res, err := h.journeys.Join(ctx, task)
		if err != nil {
			return err
		}
		if res != nil && res.AwaitingCallback {
			return h.callbacks.AwaitCallback(ctx, task, h.callbackTimeout)
		}
		return nil
	})
}

// ProcessLogin runs one login/balance attempt.
func (h *Handler) ProcessLogin(ctx context.Context, t *asynq.Task) error {
	return h.process(ctx, t, h.journeys.Login)
}

// ProcessCallbackConfirm fires the callback deadline of a waiting join.
func (h *Handler) ProcessCallbackConfirm(ctx context.Context, t *asynq.Task) error {
	p, err := workqueue.DecodePayload(t)
	if err != nil {
		h.reporter.Report(ctx, err, "type", t.Type())
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	ctx, span := tracing.StartConsumerSpan(ctx, "job "+t.Type(),
		tracing.JobType(t.Type()),
		tracing.SchemeAccountID(p.SchemeAccountID),
	)
	err = h.callbacks.ConfirmTimeout(ctx, p)
	tracing.End(span, err)
	return err
}

func (h *Handler) process(ctx context.Context, t *asynq.Task, run func(context.Context, *core.RetryTask) error) (err error) {
	p, err := workqueue.DecodePayload(t)
	if err != nil {
		h.reporter.Report(ctx, err, "type", t.Type())
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	ctx, span := tracing.StartConsumerSpan(ctx, "job "+t.Type(),
		tracing.JobType(t.Type()),
		tracing.SchemeAccountID(p.SchemeAccountID),
		tracing.Scheme(p.SchemeIdentifier),
		tracing.Attempts(p.Attempts),
	)
	defer func() { tracing.End(span, err) }()

	log := h.logger.With(
		"scheme_account_id", p.SchemeAccountID,
		"message_uid", p.MessageUID,
		"type", t.Type(),
	)

	task, err := h.store.Get(ctx, p.SchemeAccountID)
	if err != nil {
		if core.IsNotFound(err) {
			log.DebugContext(ctx, "no task for job")
			return nil
		}
		return err
	}
	if !p.Matches(task) {
		log.DebugContext(ctx, "stale job",
			"attempts", task.Attempts,
			"callback_retries", task.CallbackRetries,
		)
		return nil
	}

	start := h.store.MarkInProgress
	switch task.Status {
	case core.StatusCancelled, core.StatusSuccess:
		log.InfoContext(ctx, "removing finished task", "status", task.Status)
		return h.store.Delete(ctx, task)
	case core.StatusFailed:
		// A previous run died after marking the task failed.
		return h.failures.Fail(ctx, task, task.LastErrorKind())
	case core.StatusWaiting:
		log.DebugContext(ctx, "task is waiting for a callback")
		return nil
	case core.StatusInProgress:
		cutoff := h.now().Add(-h.jobTimeout)
		if task.TimeUpdated.After(cutoff) {
			log.InfoContext(ctx, "task is already running", "time_updated", task.TimeUpdated)
			return nil
		}
		log.WarnContext(ctx, "reclaiming abandoned task", "time_updated", task.TimeUpdated)
		start = func(ctx context.Context, task *core.RetryTask) error {
			return h.store.Reclaim(ctx, task, cutoff)
		}
	}

	if err := start(ctx, task); err != nil {
		if core.IsNotFound(err) || errors.Is(err, core.ErrInvalidTransition) {
			log.InfoContext(ctx, "task changed before it could start", "error", err)
			return nil
		}
		return err
	}

	if jerr := run(ctx, task); jerr != nil {
		return h.handleJourneyError(ctx, log, task, jerr)
	}
	return nil
}

func (h *Handler) handleJourneyError(ctx context.Context, log *slog.Logger, task *core.RetryTask, cause error) error {
	if errors.Is(cause, journey.ErrCleanup) {
		// The row is SUCCESS; the redelivered job removes it.
		log.WarnContext(ctx, "cleanup after success failed", "error", cause)
		return cause
	}
	if errors.Is(cause, journey.ErrUnknownScheme) {
		h.reporter.Report(ctx, cause, "scheme_account_id", task.SchemeAccountID, "scheme", task.SchemeIdentifier)
		return h.ignoreGone(log, h.failures.Fail(ctx, task, core.KindUnknown))
	}

	kind := core.KindOf(cause)
	if !kind.Known() {
		h.reporter.Report(ctx, cause,
			"scheme_account_id", task.SchemeAccountID,
			"scheme", task.SchemeIdentifier,
			"journey", task.JourneyType,
		)
	} else {
		log.InfoContext(ctx, "journey failed", "kind", kind, "attempts", task.Attempts, "error", cause)
	}

	_, _, err := h.failures.HandleFailure(ctx, task, cause)
	return h.ignoreGone(log, err)
}

// ignoreGone drops errors caused by the task disappearing or moving on
// underneath the failure handler.
func (h *Handler) ignoreGone(log *slog.Logger, err error) error {
	if err == nil {
		return nil
	}
	if core.IsNotFound(err) || errors.Is(err, core.ErrInvalidTransition) {
		log.Info("task changed during failure handling", "error", err)
		return nil
	}
	return err
}
