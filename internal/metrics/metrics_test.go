package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/piukhq/midas-sub000/internal/core"
)

func TestObserverRecordsOutcomes(t *testing.T) {
	var obs core.Observer = Observer{}
	before := testutil.ToFloat64(JourneyOutcomes.WithLabelValues("join", "fail", "test-scheme"))

	obs.OnJoinFail(context.Background(), core.Outcome{Scheme: "test-scheme", Attempts: 3})

	if got := testutil.ToFloat64(JourneyOutcomes.WithLabelValues("join", "fail", "test-scheme")); got != before+1 {
		t.Errorf("join fail count = %v, want %v", got, before+1)
	}
}

func TestReporterCounts(t *testing.T) {
	before := testutil.ToFloat64(ErrorsReported)
	Reporter{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}.Report(context.Background(), errors.New("boom"))
	if got := testutil.ToFloat64(ErrorsReported); got != before+1 {
		t.Errorf("errors reported = %v, want %v", got, before+1)
	}
}

func TestJobMiddleware(t *testing.T) {
	h := JobMiddleware(asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		return errors.New("infra")
	}))
	before := testutil.ToFloat64(JobsProcessed.WithLabelValues("attempt-join", "error"))

	if err := h.ProcessTask(context.Background(), asynq.NewTask("attempt-join", nil)); err == nil {
		t.Fatal("middleware must pass the handler error through")
	}
	if got := testutil.ToFloat64(JobsProcessed.WithLabelValues("attempt-join", "error")); got != before+1 {
		t.Errorf("jobs processed = %v, want %v", got, before+1)
	}
}
