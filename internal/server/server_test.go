package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/piukhq/midas-sub000/internal/api"
	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/metrics"
	"github.com/piukhq/midas-sub000/internal/retry"
)

type reconcilerStub struct{}

func (reconcilerStub) HandleCallback(context.Context, retry.Callback) error { return nil }

type tasksStub struct{}

func (tasksStub) Get(_ context.Context, id int64) (*core.RetryTask, error) {
	return &core.RetryTask{SchemeAccountID: id, Status: core.StatusRetrying}, nil
}

func (tasksStub) ListByStatus(context.Context, core.Status, int) ([]*core.RetryTask, error) {
	return nil, nil
}

func (tasksStub) Requeue(context.Context, *core.RetryTask) error { return nil }

type queueStub struct{}

func (queueStub) Requeue(context.Context, *core.RetryTask) error { return nil }

type pingStub struct{}

func (pingStub) Ping(context.Context) error { return nil }

func testRouter(cfg Config) http.Handler {
	return NewRouter(RouterDeps{
		Reconciler: reconcilerStub{},
		Tasks:      tasksStub{},
		Queue:      queueStub{},
		Checkers:   map[string]api.Checker{"postgres": pingStub{}},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
}

func TestRouter_Routes(t *testing.T) {
	h := testRouter(Config{})
	tests := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/livez", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/join/merchant/iceland-bonus-card", `{"message_uid":"u","success":true}`, http.StatusOK},
		{http.MethodGet, "/tasks", "", http.StatusOK},
		{http.MethodGet, "/tasks/12", "", http.StatusOK},
		{http.MethodPost, "/tasks/12/requeue", "", http.StatusAccepted},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_APIKeyGuardsTasksOnly(t *testing.T) {
	h := testRouter(Config{APIKey: "k"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/1", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /tasks status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/tasks/1", nil)
	req.Header.Set("Authorization", "Token k")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated /tasks status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/join/merchant/x", strings.NewReader(`{"message_uid":"u"}`)))
	if w.Code != http.StatusOK {
		t.Errorf("callback status = %d, should not need a key", w.Code)
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	h := testRouter(Config{})
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/tasks/{scheme_account_id}", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"1", "2"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tasks/"+id, nil))
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("counter delta = %v, want 2", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8000" || cfg.WorkQueue != "midas_retries" || cfg.MessageBus != "sqs" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Retry.BackoffBase != 3 || cfg.Retry.MaxRetries != 3 || cfg.Retry.MaxCallbackRetries != 4 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.CallbackTimeout != time.Hour || cfg.SweepGrace != 15*time.Minute || cfg.JobTimeout != 10*time.Minute {
		t.Errorf("durations = %s %s %s", cfg.CallbackTimeout, cfg.SweepGrace, cfg.JobTimeout)
	}
	if !cfg.Hermes.BreakerEnabled || cfg.Hermes.RateLimit != 600 {
		t.Errorf("hermes = %+v", cfg.Hermes)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("MAX_RETRY_COUNT", "5")
	t.Setenv("RETRY_BACKOFF_BASE", "2.5")
	t.Setenv("CALLBACK_TIMEOUT", "30m")
	t.Setenv("MESSAGE_BUS", "Kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("HERMES_BREAKER", "false")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BackoffBase != 2.5 || cfg.CallbackTimeout != 30*time.Minute {
		t.Errorf("retry = %+v timeout = %s", cfg.Retry, cfg.CallbackTimeout)
	}
	if cfg.MessageBus != "kafka" || len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Errorf("bus = %q brokers = %v", cfg.MessageBus, cfg.KafkaBrokers)
	}
	if cfg.Hermes.BreakerEnabled {
		t.Error("breaker should be disabled")
	}
	if cfg.RedisDB != 0 {
		t.Errorf("unparseable REDIS_DB should fall back to default, got %d", cfg.RedisDB)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"RETRY_BACKOFF_BASE", "1"},
		{"MAX_CALLBACK_RETRY_COUNT", "0"},
		{"PUBLISH_WORKERS", "0"},
		{"MESSAGE_BUS", "rabbit"},
		{"CALLBACK_TIMEOUT", "-1s"},
		{"JOB_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("%s=%s should be rejected", tt.key, tt.val)
			}
		})
	}
}
