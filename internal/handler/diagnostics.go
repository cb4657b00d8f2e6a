package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/diagnostics"
	"github.com/dukerupert/nudge/internal/push"
	"github.com/dukerupert/nudge/internal/registry"
)

type DiagnosticsHandler struct {
	service *diagnostics.Service
	logger  *slog.Logger
}

func NewDiagnosticsHandler(svc *diagnostics.Service, logger *slog.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{service: svc, logger: logger}
}

// Diagnose handles POST /api/push/diagnostics
func (h *DiagnosticsHandler) Diagnose(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var report diagnostics.ClientReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	snap, err := h.service.Diagnose(userID, report)
	if err != nil {
		h.writeError(w, userID, "diagnose", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Execute handles POST /api/push/diagnostics/actions
func (h *DiagnosticsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req diagnostics.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	out, err := h.service.Execute(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, userID, string(req.Action), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DiagnosticsHandler) writeError(w http.ResponseWriter, userID int64, op string, err error) {
	switch {
	case errors.Is(err, diagnostics.ErrInvalidReport),
		errors.Is(err, diagnostics.ErrUnknownAction),
		errors.Is(err, diagnostics.ErrMissingSubscription),
		errors.Is(err, registry.ErrInvalidSubscription),
		errors.Is(err, push.ErrUnknownType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, push.ErrInvocationInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("diagnostics", "op", op, "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "diagnostics failed"})
	}
}
