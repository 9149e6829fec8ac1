package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/metrics"
)

const sweepBatch = 500

// TaskSource finds tasks whose queued job appears to be lost.
type TaskSource interface {
	ListStale(ctx context.Context, cutoff, waitingCutoff time.Time, limit int) ([]*core.RetryTask, error)
	Requeue(ctx context.Context, task *core.RetryTask) error
}

// Enqueuer schedules an immediate attempt or callback deadline.
type Enqueuer interface {
	Requeue(ctx context.Context, task *core.RetryTask) error
	RequeueCallbackConfirm(ctx context.Context, task *core.RetryTask) error
}

// Scheduler periodically re-enqueues tasks that should have run already.
type Scheduler struct {
	tasks           TaskSource
	queue           Enqueuer
	schedule        cron.Schedule
	grace           time.Duration
	callbackTimeout time.Duration
	reporter        core.Reporter
	now             func() time.Time
	stop            chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// New creates a Scheduler running on spec, a cron expression or descriptor
// such as "@every 5m". callbackTimeout is how long a join may wait for its
// merchant callback.
func New(tasks TaskSource, queue Enqueuer, spec string, grace, callbackTimeout time.Duration, reporter core.Reporter, logger *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	if reporter == nil {
		reporter = core.LogReporter{Logger: logger}
	}
	return &Scheduler{
		tasks:           tasks,
		queue:           queue,
		schedule:        schedule,
		grace:           grace,
		callbackTimeout: callbackTimeout,
		reporter:        reporter,
		now:             time.Now,
		stop:            make(chan struct{}),
		logger:          logger,
	}, nil
}

// Start begins the sweep loop in the background.
func (s *Scheduler) Start() {
	go s.runLoop("requeue-sweeper", s.Sweep)
}

// Stop signals the background loop to stop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Sweep re-enqueues work that should have run already: RETRYING tasks
// overdue by more than the grace period, rows in any other non-waiting
// status untouched for that long, and WAITING tasks whose callback deadline
// passed more than the grace period ago.
func (s *Scheduler) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.grace)
	stale, err := s.tasks.ListStale(ctx, cutoff, cutoff.Add(-s.callbackTimeout), sweepBatch)
	if err != nil {
		return err
	}

	requeued := 0
	for _, task := range stale {
		if !s.sweep(ctx, task) {
			continue
		}
		metrics.TasksRequeued.WithLabelValues("sweeper").Inc()
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("requeued stale retry tasks", "count", requeued, "found", len(stale))
	}
	return nil
}

func (s *Scheduler) sweep(ctx context.Context, task *core.RetryTask) bool {
	var err error
	switch task.Status {
	case core.StatusWaiting:
		// The deadline job was lost; fire it now.
		err = s.queue.RequeueCallbackConfirm(ctx, task)
	case core.StatusRetrying, core.StatusPending:
		if err := s.tasks.Requeue(ctx, task); err != nil {
			// Picked up by a worker since the listing.
			if !core.IsNotFound(err) {
				s.reporter.Report(ctx, err, "scheme_account_id", task.SchemeAccountID)
			}
			return false
		}
		err = s.queue.Requeue(ctx, task)
	default:
		// The worker decides what a requeued, running or finished row needs.
		err = s.queue.Requeue(ctx, task)
	}
	if err != nil {
		s.reporter.Report(ctx, err, "scheme_account_id", task.SchemeAccountID, "status", task.Status)
		return false
	}
	return true
}

func (s *Scheduler) runLoop(name string, fn func(context.Context) error) {
	for {
		timer := time.NewTimer(time.Until(s.schedule.Next(s.now())))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := fn(ctx); err != nil {
				s.logger.Error("scheduler loop error", "loop", name, "error", err)
			}
			cancel()
		}
	}
}
