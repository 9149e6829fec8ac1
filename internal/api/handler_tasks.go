package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TaskStore is the task persistence used by the operational API.
type TaskStore interface {
	Get(ctx context.Context, schemeAccountID int64) (*core.RetryTask, error)
	ListByStatus(ctx context.Context, status core.Status, limit int) ([]*core.RetryTask, error)
	Requeue(ctx context.Context, task *core.RetryTask) error
}

// Requeuer enqueues an immediate attempt outside the retry schedule.
type Requeuer interface {
	Requeue(ctx context.Context, task *core.RetryTask) error
}

// TaskHandler handles task inspection and requeue endpoints.
type TaskHandler struct {
	store TaskStore
	queue Requeuer
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(store TaskStore, queue Requeuer) *TaskHandler {
	return &TaskHandler{store: store, queue: queue}
}

// List handles GET /tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var status core.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, ok := core.ParseStatus(s)
		if !ok {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Unknown task status.", map[string]any{
				"field":    "status",
				"expected": core.AllStatuses,
				"received": s,
			}))
			return
		}
		status = parsed
	}

	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("The 'limit' parameter must be a positive integer.", map[string]any{
				"field": "limit",
			}))
			return
		}
		limit = min(n, maxListLimit)
	}

	tasks, err := h.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// Get handles GET /tasks/{scheme_account_id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	task, err := h.store.Get(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"task": task})
}

// Requeue handles POST /tasks/{scheme_account_id}/requeue
func (h *TaskHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	task, err := h.store.Get(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := h.store.Requeue(r.Context(), task); err != nil {
		HandleError(w, err)
		return
	}
	if err := h.queue.Requeue(r.Context(), task); err != nil {
		HandleError(w, err)
		return
	}
	metrics.TasksRequeued.WithLabelValues("api").Inc()
	WriteJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "scheme_account_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Invalid scheme account id.", map[string]any{
			"field":    "scheme_account_id",
			"received": raw,
		}))
		return 0, false
	}
	return id, true
}
