package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/nudge/internal/push"
)

type DispatchHandler struct {
	runner push.Runner
	logger *slog.Logger
}

func NewDispatchHandler(runner push.Runner, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{runner: runner, logger: logger}
}

type dispatchRequest struct {
	Type string `json:"type"`
}

type dispatchResponse struct {
	Success bool `json:"success"`
	push.Result
}

// Dispatch handles POST /api/notifications/dispatch. A malformed body is an
// infrastructure failure to the trigger and answers 500.
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("decode dispatch request", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	res, err := h.runner.Run(r.Context(), req.Type)
	switch {
	case errors.Is(err, push.ErrUnknownType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, push.ErrInvocationInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("dispatch", "type", req.Type, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse{Success: true, Result: res})
}
