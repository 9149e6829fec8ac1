package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Checker probes one dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// SystemHandler handles system-related HTTP endpoints.
type SystemHandler struct {
	checkers  map[string]Checker
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(checkers map[string]Checker) *SystemHandler {
	return &SystemHandler{checkers: checkers, startTime: time.Now()}
}

// Check probes every dependency.
func (h *SystemHandler) Check(ctx context.Context) *core.HealthResponse {
	resp := &core.HealthResponse{
		Status:        "ok",
		Version:       core.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Dependencies:  make(map[string]core.DependencyHealth, len(h.checkers)),
	}

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		start := time.Now()
		err := h.checkers[name].Ping(ctx)
		dep := core.DependencyHealth{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			dep.Status = "error"
			dep.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Dependencies[name] = dep
	}
	return resp
}

// Health handles GET /healthz
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := h.Check(ctx)
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// Live handles GET /livez
func (h *SystemHandler) Live(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
