package journey

import (
	"context"
	"fmt"

	"github.com/piukhq/midas-sub000/internal/agents"
	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/publish"
)

// Join calls the merchant join for task. A result with AwaitingCallback set
// leaves the task for the caller to park; otherwise the join is completed
// before returning.
func (r *Runner) Join(ctx context.Context, task *core.RetryTask) (*agents.JoinResult, error) {
	agent, req, _, err := r.prepare(ctx, task)
	if err != nil {
		return nil, err
	}

	res, err := agent.Join(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", task.SchemeIdentifier, err)
	}
	if res == nil {
		res = &agents.JoinResult{}
	}
	if res.AwaitingCallback {
		r.logger.InfoContext(ctx, "join awaiting merchant callback",
			"scheme_account_id", task.SchemeAccountID,
			"scheme", task.SchemeIdentifier,
			"message_uid", task.MessageUID,
		)
		return res, nil
	}
	if err := r.CompleteJoin(ctx, task, res.Identifiers); err != nil {
		return nil, err
	}
	return res, nil
}

// CompleteJoin finishes a successful join: it stores merchant-assigned
// identifiers, publishes the active status, settles consents and deletes
// the task. A failed delete is returned as ErrCleanup.
func (r *Runner) CompleteJoin(ctx context.Context, task *core.RetryTask, identifiers map[string]string) error {
	rd, err := task.DecodeRequestData()
	if err != nil {
		rd = &core.RequestData{}
	}

	won, err := r.finish(ctx, task)
	if err != nil || !won {
		return err
	}

	if err := r.publisher.UpdateCredentials(ctx, task.SchemeAccountID, identifiers); err != nil {
		r.logger.WarnContext(ctx, "failed to store join identifiers",
			"scheme_account_id", task.SchemeAccountID,
			"error", err,
		)
	}
	r.publisher.PublishResults(ctx, publish.Results{
		SchemeAccountID: task.SchemeAccountID,
		Journey:         "join",
		UserInfo:        rd.UserInfo,
		Status:          core.StatusActive,
	})

	if _, err := r.store.SetConsentStatus(ctx, task.SchemeAccountID, core.ConsentPending, core.ConsentSuccess); err != nil {
		r.logger.WarnContext(ctx, "failed to mark consents successful", "scheme_account_id", task.SchemeAccountID, "error", err)
	}
	r.logger.InfoContext(ctx, "join complete",
		"scheme_account_id", task.SchemeAccountID,
		"scheme", task.SchemeIdentifier,
		"attempts", task.Attempts,
		"callback_retries", task.CallbackRetries,
	)
	r.observer.OnJoinSuccess(ctx, outcome(task, rd))

	if err := r.store.Delete(ctx, task); err != nil {
		return fmt.Errorf("%w: delete joined task: %w", ErrCleanup, err)
	}
	return nil
}
