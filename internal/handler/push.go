package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/registry"
)

type PushHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewPushHandler(reg *registry.Registry, logger *slog.Logger) *PushHandler {
	return &PushHandler{registry: reg, logger: logger}
}

// subscriptionRequest accepts both the flat shape and the browser's
// PushSubscription.toJSON() shape with a nested keys object.
type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
	Keys     *struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (req subscriptionRequest) subscription() registry.Subscription {
	sub := registry.Subscription{Endpoint: req.Endpoint, P256dh: req.P256dh, Auth: req.Auth}
	if req.Keys != nil {
		if sub.P256dh == "" {
			sub.P256dh = req.Keys.P256dh
		}
		if sub.Auth == "" {
			sub.Auth = req.Keys.Auth
		}
	}
	return sub
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.registry.VAPIDKey()})
}

// GetSubscription handles GET /api/push/subscription
func (h *PushHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	sub, err := h.registry.Current(userID)
	if err != nil {
		h.logger.Error("get push subscription", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get subscription"})
		return
	}
	if sub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subscription": sub,
		"stale_key":    h.registry.Stale(sub),
	})
}

// PutSubscription handles PUT /api/push/subscription
func (h *PushHandler) PutSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sub, err := h.registry.Replace(userID, req.subscription())
	if errors.Is(err, registry.ErrInvalidSubscription) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("replace push subscription", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save subscription"})
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /api/push/subscription
func (h *PushHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	deleted, err := h.registry.Delete(userID)
	if err != nil {
		h.logger.Error("delete push subscription", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete subscription"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecreateSubscription handles POST /api/push/subscription/recreate
func (h *PushHandler) RecreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	previous, current, err := h.registry.Recreate(userID, req.subscription())
	if errors.Is(err, registry.ErrInvalidSubscription) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("recreate push subscription", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to recreate subscription"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"previous":     previous,
		"subscription": current,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
