package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/workqueue"
)

// Observer records journey outcomes.
type Observer struct{}

func record(journey, outcome string, o core.Outcome) {
	JourneyOutcomes.WithLabelValues(journey, outcome, o.Scheme).Inc()
	JourneyAttempts.WithLabelValues(journey, outcome).Observe(float64(o.Attempts))
}

func (Observer) OnLoginSuccess(_ context.Context, o core.Outcome) { record("login", "success", o) }
func (Observer) OnLoginFail(_ context.Context, o core.Outcome)    { record("login", "fail", o) }
func (Observer) OnJoinSuccess(_ context.Context, o core.Outcome)  { record("join", "success", o) }
func (Observer) OnJoinFail(_ context.Context, o core.Outcome)     { record("join", "fail", o) }

// Reporter counts reported errors and logs them.
type Reporter struct {
	Logger *slog.Logger
}

func (r Reporter) Report(ctx context.Context, err error, attrs ...any) {
	ErrorsReported.Inc()
	core.LogReporter{Logger: r.Logger}.Report(ctx, err, attrs...)
}

// JobMiddleware records the duration and result of every job.
func JobMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, t)

		result := "ok"
		if err != nil {
			result = "error"
		}
		JobsProcessed.WithLabelValues(t.Type(), result).Inc()
		JobDuration.WithLabelValues(t.Type()).Observe(time.Since(start).Seconds())
		return err
	})
}

var _ workqueue.Middleware = JobMiddleware
