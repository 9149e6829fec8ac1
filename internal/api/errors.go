package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/retry"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error *core.APIError `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, err *core.APIError) {
	WriteJSON(w, status, ErrorResponse{Error: err})
}

// HandleError maps an error to the appropriate HTTP status and writes it.
func HandleError(w http.ResponseWriter, err error) {
	var apiErr *core.APIError
	var nf *core.NotFoundError
	switch {
	case errors.As(err, &apiErr):
		WriteError(w, statusForCode(apiErr.Code), apiErr)
	case errors.As(err, &nf):
		WriteError(w, http.StatusNotFound, core.NewAPINotFoundError(nf.Resource, nf.Key))
	case errors.Is(err, core.ErrDuplicateTask):
		WriteError(w, http.StatusConflict, core.NewConflictError(err.Error(), nil))
	case errors.Is(err, retry.ErrNotAwaitingCallback), errors.Is(err, core.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, core.NewConflictError(err.Error(), nil))
	default:
		WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
	}
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case core.ErrCodeValidationError:
		return http.StatusUnprocessableEntity
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
