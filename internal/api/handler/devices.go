package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tribeapp/tribe-api/internal/api/respond"
	"github.com/tribeapp/tribe-api/internal/auth"
	"github.com/tribeapp/tribe-api/internal/dispatch"
)

// RegisterDevice stores or reactivates a push subscription token for the
// authenticated user.
// @Summary Register a push device
// @Tags devices
// @Accept json
// @Produce json
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /devices [post]
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "token is required")
		return
	}

	if _, err := h.pool.Exec(r.Context(), "upsert_device", userID, req.Token); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to register device")
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, map[string]interface{}{"status": "registered"})
}

// RemoveDevice deactivates a push subscription token.
// @Summary Remove a push device
// @Tags devices
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /devices/{token} [delete]
func (h *Handler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	token := chi.URLParam(r, "token")
	if _, err := h.pool.Exec(r.Context(), "deactivate_device", userID, token); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to remove device")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "removed"})
}

// consentColumns maps API preference names to users columns. Only rules in
// the dispatch table are settable.
var consentColumns = func() map[string]string {
	m := make(map[string]string)
	for _, r := range dispatch.Rules {
		if r.ConsentColumn != "" {
			m[r.ConsentColumn] = r.ConsentColumn
		}
	}
	return m
}()

// UpdatePreferences toggles per-rule notification consent flags.
// @Summary Update notification preferences
// @Description Accepts a map of consent flags, e.g. {"notify_reminders": false}.
// @Tags devices
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /me/preferences [put]
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	var prefs map[string]bool
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil || len(prefs) == 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "No preferences supplied")
		return
	}

	for name, value := range prefs {
		col, ok := consentColumns[name]
		if !ok {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown preference: "+name)
			return
		}
		sql := fmt.Sprintf("UPDATE users SET %s = $2 WHERE id = $1", col)
		if _, err := h.pool.Exec(r.Context(), sql, userID, value); err != nil {
			respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to update preferences")
			return
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "updated"})
}
