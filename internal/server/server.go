package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piukhq/midas-sub000/internal/api"
	"github.com/piukhq/midas-sub000/internal/metrics"
)

// RouterDeps are the collaborators behind the HTTP surface.
type RouterDeps struct {
	Reconciler api.Reconciler
	Tasks      api.TaskStore
	Queue      api.Requeuer
	Checkers   map[string]api.Checker
	Logger     *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d RouterDeps, cfg Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger(d.Logger))

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	systemHandler := api.NewSystemHandler(d.Checkers)
	callbackHandler := api.NewCallbackHandler(d.Reconciler, d.Logger)
	taskHandler := api.NewTaskHandler(d.Tasks, d.Queue)

	// System endpoints
	r.Get("/healthz", systemHandler.Health)
	r.Get("/livez", systemHandler.Live)

	// Merchant callbacks
	r.Post("/join/merchant/{scheme}", callbackHandler.Receive)

	// Task operations
	r.Route("/tasks", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(api.KeyAuth(cfg.APIKey))
		}
		r.Get("/", taskHandler.List)
		r.Get("/{scheme_account_id}", taskHandler.Get)
		r.Post("/{scheme_account_id}/requeue", taskHandler.Requeue)
	})

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()
		path := metricRoutePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Observe(duration)
	})
}

func metricRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
