package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

// ErrNotAwaitingCallback is returned for a callback on a task that is not waiting for one.
var ErrNotAwaitingCallback = errors.New("retry task is not awaiting a callback")

// JoinCompleter finishes a successful join: identifiers, status, cleanup.
type JoinCompleter interface {
	CompleteJoin(ctx context.Context, task *core.RetryTask, identifiers map[string]string) error
}

// Callback is a merchant's out-of-band report on an async join.
type Callback struct {
	MessageUID  string            `json:"message_uid"`
	Scheme      string            `json:"-"`
	Success     bool              `json:"success"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Message     string            `json:"message,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
}

// Kind classifies a failed callback. Codes that are not a declared kind
// are merchant-declared join failures.
func (cb Callback) Kind() core.ErrorKind {
	kind := core.ErrorKind(strings.ToUpper(strings.TrimSpace(cb.ErrorCode)))
	if kind.Known() {
		return kind
	}
	return core.KindJoinError
}

// Reconciler drives async joins. It keeps its own attempt counter
// (callback_retries) and threshold, separate from the coordinator's.
type Reconciler struct {
	*Coordinator
	completer JoinCompleter
}

// NewReconciler creates a reconciler sharing the coordinator's collaborators.
func NewReconciler(c *Coordinator, completer JoinCompleter) *Reconciler {
	return &Reconciler{Coordinator: c, completer: completer}
}

// HandleCallbackFailure applies the callback threshold. The first failure of
// a cycle resets attempts; later ones only bump callback_retries. Reaching
// the threshold fails the task through fail_callback.
func (r *Reconciler) HandleCallbackFailure(ctx context.Context, task *core.RetryTask, cause error) (core.Status, *time.Time, error) {
	kind := core.KindOf(cause)
	r.annotate(ctx, task, kind, cause)

	decision := core.DecideCallback(r.policy, task.CallbackRetries)
	if decision.Terminal() {
		r.logger.InfoContext(ctx, "callback retries exhausted",
			"scheme_account_id", task.SchemeAccountID,
			"callback_retries", task.CallbackRetries,
			"kind", kind,
		)
		if err := r.store.FailCallback(ctx, task); err != nil {
			return task.Status, nil, fmt.Errorf("fail callback: %w", err)
		}
		if err := r.finishFailed(ctx, task, kind); err != nil {
			return core.StatusFailed, nil, err
		}
		return core.StatusFailed, nil, nil
	}

	next := r.now().Add(decision.Delay)
	var err error
	if task.CallbackRetries == 0 {
		err = r.store.ResetForCallbackAttempt(ctx, task, core.StatusRetrying, next)
	} else {
		err = r.store.UpdateCallbackAttempt(ctx, task, next)
	}
	if err != nil {
		return task.Status, nil, fmt.Errorf("schedule callback retry: %w", err)
	}
	r.schedule(ctx, task, next)

	r.logger.InfoContext(ctx, "callback retry scheduled",
		"scheme_account_id", task.SchemeAccountID,
		"callback_retries", task.CallbackRetries,
		"attempts", task.Attempts,
		"next_attempt_time", next,
	)
	return core.StatusRetrying, &next, nil
}

// AwaitCallback parks task until the merchant calls back, with a
// confirmation job as the deadline.
func (r *Reconciler) AwaitCallback(ctx context.Context, task *core.RetryTask, timeout time.Duration) error {
	if err := r.store.MarkWaiting(ctx, task); err != nil {
		return fmt.Errorf("await callback: %w", err)
	}
	at := r.now().Add(timeout)
	if err := r.queue.EnqueueCallbackConfirm(ctx, task, at); err != nil {
		r.reporter.Report(ctx, fmt.Errorf("enqueue callback confirm: %w", err),
			"scheme_account_id", task.SchemeAccountID,
		)
	}
	return nil
}

// HandleCallback applies an inbound merchant callback.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) error {
	task, err := r.store.GetByMessageUID(ctx, cb.MessageUID)
	if err != nil {
		return err
	}
	if cb.Scheme != "" && cb.Scheme != task.SchemeIdentifier {
		return &core.NotFoundError{Resource: "retry task", Key: cb.MessageUID, Reason: "scheme mismatch"}
	}
	if !task.AwaitingCallback {
		return ErrNotAwaitingCallback
	}

	if cb.Success {
		return r.completer.CompleteJoin(ctx, task, cb.Identifiers)
	}

	cause := &core.MerchantError{Kind: cb.Kind(), Message: cb.Message, Code: cb.ErrorCode}
	if cause.Kind.Retryable() {
		_, _, err := r.HandleCallbackFailure(ctx, task, cause)
		return err
	}
	return r.Fail(ctx, task, cause.Kind)
}

// ConfirmTimeout fires when a waiting task's callback deadline passes. A
// job for an earlier cycle, or for a task no longer waiting, does nothing.
func (r *Reconciler) ConfirmTimeout(ctx context.Context, p workqueue.Payload) error {
	task, err := r.store.Get(ctx, p.SchemeAccountID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !task.AwaitingCallback || task.MessageUID != p.MessageUID || task.CallbackRetries != p.CallbackRetries {
		r.logger.DebugContext(ctx, "stale callback confirmation",
			"scheme_account_id", task.SchemeAccountID,
			"callback_retries", task.CallbackRetries,
		)
		return nil
	}
	_, _, err = r.HandleCallbackFailure(ctx, task, core.NewMerchantError(core.KindCallbackTimeout, "no callback received"))
	return err
}
