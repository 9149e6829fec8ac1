package grpc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Prober reports the health of every dependency.
type Prober interface {
	Check(ctx context.Context) *core.HealthResponse
}

// Health keeps a grpc health server in sync with a Prober. The overall
// service ("") and each dependency by name are reported.
type Health struct {
	server   *health.Server
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
}

// NewHealth creates a Health that re-probes every interval.
func NewHealth(prober Prober, interval time.Duration, logger *slog.Logger) *Health {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Health{
		server:   health.NewServer(),
		prober:   prober,
		interval: interval,
		logger:   logger,
	}
}

// Register installs the health service on s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Server returns the underlying health service.
func (h *Health) Server() healthpb.HealthServer { return h.server }

// Refresh probes once and publishes the result.
func (h *Health) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := h.prober.Check(ctx)

	names := make([]string, 0, len(resp.Dependencies))
	for name := range resp.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.server.SetServingStatus(name, servingStatus(resp.Dependencies[name].Status))
	}

	overall := servingStatus(resp.Status)
	if overall != healthpb.HealthCheckResponse_SERVING {
		h.logger.Warn("health degraded", "dependencies", resp.Dependencies)
	}
	h.server.SetServingStatus("", overall)
}

// Run refreshes until ctx is done, then marks everything NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func servingStatus(s string) healthpb.HealthCheckResponse_ServingStatus {
	if s == "ok" {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
