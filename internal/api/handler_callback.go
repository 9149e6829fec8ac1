package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/metrics"
	"github.com/piukhq/midas-sub000/internal/retry"
)

const maxCallbackBody = 1 << 20

// Reconciler applies merchant callbacks.
type Reconciler interface {
	HandleCallback(ctx context.Context, cb retry.Callback) error
}

// CallbackHandler receives async join results from merchants.
type CallbackHandler struct {
	reconciler Reconciler
	logger     *slog.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(reconciler Reconciler, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler, logger: logger}
}

// Receive handles POST /join/merchant/{scheme}
func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	scheme := chi.URLParam(r, "scheme")

	var cb retry.Callback
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&cb); err != nil {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Invalid JSON in request body.", nil))
		return
	}
	if cb.MessageUID == "" {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("The 'message_uid' field is required.", map[string]any{
			"field": "message_uid",
		}))
		return
	}
	cb.Scheme = scheme

	if err := h.reconciler.HandleCallback(r.Context(), cb); err != nil {
		metrics.CallbacksReceived.WithLabelValues(scheme, "rejected").Inc()
		h.logger.WarnContext(r.Context(), "callback rejected",
			"scheme", scheme,
			"message_uid", cb.MessageUID,
			"error", err,
		)
		HandleError(w, err)
		return
	}

	metrics.CallbacksReceived.WithLabelValues(scheme, "accepted").Inc()
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message_uid": cb.MessageUID})
}
