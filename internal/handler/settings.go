package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/push"
	"github.com/dukerupert/nudge/internal/store"
)

type SettingsHandler struct {
	settingsStore *store.SettingsStore
	logger        *slog.Logger
}

func NewSettingsHandler(ss *store.SettingsStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settingsStore: ss, logger: logger}
}

type settingsRequest struct {
	CapsuleReminder bool    `json:"capsule_reminder"`
	CapsuleTime     *string `json:"capsule_time"`
	WaterReminder   bool    `json:"water_reminder"`
	WaterInterval   int     `json:"water_interval"`
}

func (req *settingsRequest) validate() error {
	if req.CapsuleTime != nil {
		t := strings.TrimSpace(*req.CapsuleTime)
		if t == "" {
			req.CapsuleTime = nil
		} else if _, err := push.ParseClock(t); err != nil {
			return fmt.Errorf("capsule_time must be HH:MM")
		} else {
			req.CapsuleTime = &t
		}
	}
	if req.CapsuleReminder && req.CapsuleTime == nil {
		return fmt.Errorf("capsule_time is required when capsule_reminder is on")
	}
	if req.WaterInterval == 0 {
		req.WaterInterval = model.DefaultWaterInterval
	}
	if req.WaterInterval < 1 {
		return fmt.Errorf("water_interval must be a positive number of minutes")
	}
	return nil
}

// Get handles GET /api/push/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	settings, err := h.settingsStore.EnsureDefaults(userID)
	if err != nil {
		h.logger.Error("get notification settings", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get settings"})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Update handles PUT /api/push/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	settings, err := h.settingsStore.Update(userID, req.CapsuleReminder, req.CapsuleTime, req.WaterReminder, req.WaterInterval)
	if err != nil {
		h.logger.Error("update notification settings", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
