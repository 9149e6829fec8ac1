package journey

import (
	"context"
	"fmt"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/publish"
)

// Login validates the stored credentials, fetches balance and transactions,
// and publishes all three results before deleting the task.
func (r *Runner) Login(ctx context.Context, task *core.RetryTask) error {
	agent, req, rd, err := r.prepare(ctx, task)
	if err != nil {
		return err
	}

	if err := agent.Login(ctx, req); err != nil {
		return fmt.Errorf("login %s: %w", task.SchemeIdentifier, err)
	}
	balance, err := agent.Balance(ctx, req)
	if err != nil {
		return fmt.Errorf("balance %s: %w", task.SchemeIdentifier, err)
	}
	txs, err := agent.Transactions(ctx, req)
	if err != nil {
		// Transactions are optional once the balance is known.
		r.logger.WarnContext(ctx, "failed to fetch transactions",
			"scheme_account_id", task.SchemeAccountID,
			"scheme", task.SchemeIdentifier,
			"error", err,
		)
		txs = nil
	}

	won, err := r.finish(ctx, task)
	if err != nil || !won {
		return err
	}

	r.publisher.PublishResults(ctx, publish.Results{
		SchemeAccountID: task.SchemeAccountID,
		Journey:         "login",
		UserInfo:        rd.UserInfo,
		Status:          core.StatusActive,
		Balance:         balance,
		Transactions:    txs,
	})

	r.observer.OnLoginSuccess(ctx, outcome(task, rd))

	if err := r.store.Delete(ctx, task); err != nil {
		return fmt.Errorf("%w: delete logged-in task: %w", ErrCleanup, err)
	}
	return nil
}
