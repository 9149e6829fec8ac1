// Package journey implements the two business flows a task drives to
// completion, join and login/balance, plus the best-effort account removal.
package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/piukhq/midas-sub000/internal/agents"
	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/publish"
	"github.com/piukhq/midas-sub000/internal/state"
)

// ErrUnknownScheme wraps registry misses so callers can fail the task
// without spending retries on it.
var ErrUnknownScheme = errors.New("unknown scheme")

// ErrCleanup marks a failure after the task reached SUCCESS and its result
// was published. Only removing the row is outstanding, so the attempt must
// not be retried or failed.
var ErrCleanup = errors.New("cleanup after success")

// Publisher delivers journey results downstream.
type Publisher interface {
	PublishResults(ctx context.Context, r publish.Results)
	UpdateCredentials(ctx context.Context, schemeAccountID int64, identifiers map[string]string) error
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Store     state.Store
	Registry  *agents.Registry
	Decrypter agents.Decrypter
	Publisher Publisher
	Observer  core.Observer
	Reporter  core.Reporter
	Logger    *slog.Logger
}

// Runner executes journeys against merchant integrations. Every error it
// returns from Join or Login is left for the caller to classify.
type Runner struct {
	store     state.Store
	registry  *agents.Registry
	decrypter agents.Decrypter
	publisher Publisher
	observer  core.Observer
	reporter  core.Reporter
	logger    *slog.Logger
}

// NewRunner creates a journey runner.
func NewRunner(d Deps) *Runner {
	r := &Runner{
		store:     d.Store,
		registry:  d.Registry,
		decrypter: d.Decrypter,
		publisher: d.Publisher,
		observer:  d.Observer,
		reporter:  d.Reporter,
		logger:    d.Logger,
	}
	if r.decrypter == nil {
		r.decrypter = agents.PlainDecrypter{}
	}
	if r.observer == nil {
		r.observer = core.NopObserver{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.reporter == nil {
		r.reporter = core.LogReporter{Logger: r.logger}
	}
	return r
}

// prepare resolves the task's integration and rebuilds the request from the
// persisted request data.
func (r *Runner) prepare(ctx context.Context, task *core.RetryTask) (agents.Agent, *agents.Request, *core.RequestData, error) {
	agent, err := r.registry.Resolve(task.SchemeIdentifier)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", ErrUnknownScheme, err)
	}
	rd, err := task.DecodeRequestData()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode request data: %w", err)
	}
	creds, err := r.decrypter.Decrypt(ctx, rd.Credentials)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	req := &agents.Request{
		SchemeAccountID: task.SchemeAccountID,
		Scheme:          task.SchemeIdentifier,
		MessageUID:      task.MessageUID,
		UserInfo:        rd.UserInfo,
		Credentials:     creds,
		Consents:        rd.Consents,
	}
	return agent, req, rd, nil
}

func outcome(task *core.RetryTask, rd *core.RequestData) core.Outcome {
	return core.Outcome{
		SchemeAccountID: task.SchemeAccountID,
		Scheme:          task.SchemeIdentifier,
		Channel:         rd.UserInfo.Channel,
		Attempts:        task.Attempts,
	}
}

// finish marks task SUCCESS and deletes it. Losing the conditional update
// means another execution already finished the task.
func (r *Runner) finish(ctx context.Context, task *core.RetryTask) (bool, error) {
	if err := r.store.MarkSuccess(ctx, task); err != nil {
		if core.IsNotFound(err) || errors.Is(err, core.ErrInvalidTransition) {
			r.logger.InfoContext(ctx, "task already finished elsewhere",
				"scheme_account_id", task.SchemeAccountID,
				"error", err,
			)
			return false, nil
		}
		return false, fmt.Errorf("mark success: %w", err)
	}
	return true, nil
}
