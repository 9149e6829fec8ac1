package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piukhq/midas-sub000/internal/agents"
	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/state"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

// Notifier delivers terminal outcomes to the downstream account service.
type Notifier interface {
	Status(ctx context.Context, schemeAccountID int64, status int, journey string, userInfo core.UserInfo) error
	DeleteCredentials(ctx context.Context, schemeAccountID int64) error
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Store     state.Store
	Queue     workqueue.Enqueuer
	Policy    core.RetryPolicy
	Notifier  Notifier
	Decrypter agents.Decrypter
	Ledger    state.Ledger
	Observer  core.Observer
	Reporter  core.Reporter
	Logger    *slog.Logger
}

// Coordinator owns every retry-path mutation of a task: it applies the
// backoff policy, persists the decision and schedules the next attempt.
type Coordinator struct {
	store     state.Store
	queue     workqueue.Enqueuer
	policy    core.RetryPolicy
	notifier  Notifier
	decrypter agents.Decrypter
	ledger    state.Ledger
	observer  core.Observer
	reporter  core.Reporter
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator. Optional deps get no-op defaults.
func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		store:     d.Store,
		queue:     d.Queue,
		policy:    d.Policy,
		notifier:  d.Notifier,
		decrypter: d.Decrypter,
		ledger:    d.Ledger,
		observer:  d.Observer,
		reporter:  d.Reporter,
		logger:    d.Logger,
		now:       time.Now,
	}
	if c.decrypter == nil {
		c.decrypter = agents.PlainDecrypter{}
	}
	if c.ledger == nil {
		c.ledger = state.NopLedger{}
	}
	if c.observer == nil {
		c.observer = core.NopObserver{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.reporter == nil {
		c.reporter = core.LogReporter{Logger: c.logger}
	}
	return c
}

// Policy returns the retry policy in force.
func (c *Coordinator) Policy() core.RetryPolicy { return c.policy }

// HandleFailure decides what happens after a failed execution of task. On
// RETRYING the next attempt is scheduled at the returned time; on FAILED the
// terminal path has already run.
func (c *Coordinator) HandleFailure(ctx context.Context, task *core.RetryTask, cause error) (core.Status, *time.Time, error) {
	kind := core.KindOf(cause)
	c.annotate(ctx, task, kind, cause)

	decision := core.Decide(c.policy, task.Attempts, kind, task.FromLogin())
	if decision.Terminal() {
		c.logger.InfoContext(ctx, "retries exhausted or error not retryable",
			"scheme_account_id", task.SchemeAccountID,
			"journey", task.JourneyType,
			"attempts", task.Attempts,
			"kind", kind,
		)
		if err := c.Fail(ctx, task, kind); err != nil {
			return core.StatusFailed, nil, err
		}
		return core.StatusFailed, nil, nil
	}

	next := c.now().Add(decision.Delay)
	if err := c.store.UpdateForRetry(ctx, task, core.StatusRetrying, next); err != nil {
		return task.Status, nil, fmt.Errorf("schedule retry: %w", err)
	}
	c.schedule(ctx, task, next)

	c.logger.InfoContext(ctx, "retry scheduled",
		"scheme_account_id", task.SchemeAccountID,
		"journey", task.JourneyType,
		"attempts", task.Attempts,
		"kind", kind,
		"next_attempt_time", next,
	)
	return core.StatusRetrying, &next, nil
}

// schedule enqueues the next attempt. A lost enqueue leaves the row
// RETRYING with a past next_attempt_time, which the sweeper picks up.
func (c *Coordinator) schedule(ctx context.Context, task *core.RetryTask, at time.Time) {
	if err := c.queue.EnqueueAt(ctx, task, at); err != nil {
		c.reporter.Report(ctx, fmt.Errorf("enqueue retry: %w", err),
			"scheme_account_id", task.SchemeAccountID,
			"next_attempt_time", at,
		)
	}
}

// Fail drives task to FAILED and runs terminal handling: one downstream
// status notification, credential cleanup for joins, deletion of the row.
func (c *Coordinator) Fail(ctx context.Context, task *core.RetryTask, kind core.ErrorKind) error {
	if task.Status != core.StatusFailed {
		if err := c.store.MarkFailed(ctx, task); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
	}
	return c.finishFailed(ctx, task, kind)
}

func (c *Coordinator) finishFailed(ctx context.Context, task *core.RetryTask, kind core.ErrorKind) error {
	rd, err := task.DecodeRequestData()
	if err != nil {
		c.logger.WarnContext(ctx, "undecodable request data", "scheme_account_id", task.SchemeAccountID, "error", err)
		rd = &core.RequestData{}
	}

	outcome := core.Outcome{
		SchemeAccountID: task.SchemeAccountID,
		Scheme:          task.SchemeIdentifier,
		Channel:         rd.UserInfo.Channel,
		Kind:            kind,
		Attempts:        task.Attempts,
	}

	switch {
	case task.TerminalNotified():
		c.logger.InfoContext(ctx, "terminal outcome already sent, finishing cleanup", "scheme_account_id", task.SchemeAccountID)
	case c.claim(ctx, task, "FAILED"):
		if task.FromLogin() {
			c.notifyLoginFailed(ctx, task, rd, kind)
		} else {
			c.notifyJoinFailed(ctx, task, rd, kind)
		}
		// A redelivery after a failed delete must not notify again.
		if err := c.store.Annotate(ctx, task, map[string]any{core.ExtraTerminalNotified: true}); err != nil {
			c.logger.WarnContext(ctx, "failed to record terminal notification", "scheme_account_id", task.SchemeAccountID, "error", err)
		}
	}

	if err := c.store.Delete(ctx, task); err != nil {
		return fmt.Errorf("delete failed task: %w", err)
	}

	if task.FromLogin() {
		c.observer.OnLoginFail(ctx, outcome)
		return nil
	}

	if _, err := c.store.SetConsentStatus(ctx, task.SchemeAccountID, core.ConsentPending, core.ConsentFailed); err != nil {
		c.logger.WarnContext(ctx, "failed to mark consents failed", "scheme_account_id", task.SchemeAccountID, "error", err)
	}
	c.observer.OnJoinFail(ctx, outcome)
	return nil
}

// claim reports whether this process owns the terminal notification.
func (c *Coordinator) claim(ctx context.Context, task *core.RetryTask, outcome string) bool {
	ok, err := c.ledger.Claim(ctx, state.LedgerKey(task.MessageUID, task.SchemeAccountID), state.LedgerEntry{
		SchemeAccountID: task.SchemeAccountID,
		Scheme:          task.SchemeIdentifier,
		Outcome:         outcome,
	})
	if err != nil {
		// An unreachable ledger does not block the notification.
		c.logger.WarnContext(ctx, "ledger claim failed", "scheme_account_id", task.SchemeAccountID, "error", err)
		return true
	}
	if !ok {
		c.logger.InfoContext(ctx, "terminal outcome already announced", "scheme_account_id", task.SchemeAccountID, "message_uid", task.MessageUID)
	}
	return ok
}

// notifyJoinFailed classifies the failure by whether the account already
// held a card number. Notification errors are logged and never returned.
func (c *Coordinator) notifyJoinFailed(ctx context.Context, task *core.RetryTask, rd *core.RequestData, kind core.ErrorKind) {
	creds, err := c.decrypter.Decrypt(ctx, rd.Credentials)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to decrypt credentials", "scheme_account_id", task.SchemeAccountID, "error", err)
		creds = map[string]any{}
	}
	req := &agents.Request{Credentials: creds}
	status := core.FailedJoinStatus(kind, req.CardNumber() != "")

	if err := c.notifier.Status(ctx, task.SchemeAccountID, status, "join", rd.UserInfo); err != nil {
		c.logger.ErrorContext(ctx, "failed to notify join failure",
			"scheme_account_id", task.SchemeAccountID,
			"status", status,
			"error", err,
		)
	}
	if err := c.notifier.DeleteCredentials(ctx, task.SchemeAccountID); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete credentials",
			"scheme_account_id", task.SchemeAccountID,
			"error", err,
		)
	}
}

func (c *Coordinator) notifyLoginFailed(ctx context.Context, task *core.RetryTask, rd *core.RequestData, kind core.ErrorKind) {
	status := kind.StatusCode()
	if err := c.notifier.Status(ctx, task.SchemeAccountID, status, "login", rd.UserInfo); err != nil {
		c.logger.ErrorContext(ctx, "failed to notify login failure",
			"scheme_account_id", task.SchemeAccountID,
			"status", status,
			"error", err,
		)
	}
}

func (c *Coordinator) annotate(ctx context.Context, task *core.RetryTask, kind core.ErrorKind, cause error) {
	extra := map[string]any{
		core.ExtraLastErrorKind: string(kind),
		"last_error_at":         core.FormatTime(c.now()),
	}
	if cause != nil {
		extra["last_error"] = cause.Error()
	}
	var me *core.MerchantError
	if errors.As(cause, &me) && me.Code != "" {
		extra["merchant_code"] = me.Code
	}
	if err := c.store.Annotate(ctx, task, extra); err != nil {
		c.logger.DebugContext(ctx, "failed to annotate task", "scheme_account_id", task.SchemeAccountID, "error", err)
	}
}
