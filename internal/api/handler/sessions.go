package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tribeapp/tribe-api/internal/api/respond"
	"github.com/tribeapp/tribe-api/internal/auth"
	"github.com/tribeapp/tribe-api/internal/geo"
)

const maxUpcomingSessions = 200

type sessionResponse struct {
	ID              uuid.UUID `json:"id"`
	Sport           string    `json:"sport"`
	LocationName    string    `json:"location_name"`
	Lat             *float64  `json:"lat,omitempty"`
	Lon             *float64  `json:"lon,omitempty"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Capacity        int       `json:"capacity"`
	CreatorID       uuid.UUID `json:"creator_id"`
	DistanceKM      *float64  `json:"distance_km,omitempty"`
}

// CreateSession creates a training session owned by the caller.
// @Summary Create a session
// @Tags sessions
// @Accept json
// @Produce json
// @Success 201 {object} sessionResponse
// @Failure 400 {object} respond.ErrorResponse
// @Router /sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	var req struct {
		Sport           string    `json:"sport"`
		LocationName    string    `json:"location_name"`
		Lat             *float64  `json:"lat"`
		Lon             *float64  `json:"lon"`
		ScheduledStart  time.Time `json:"scheduled_start"`
		DurationMinutes int       `json:"duration_minutes"`
		Capacity        int       `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Sport == "" || req.LocationName == "" || req.ScheduledStart.IsZero() {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "sport, location_name and scheduled_start are required")
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}
	if req.Capacity <= 0 {
		req.Capacity = 10
	}

	id := uuid.New()
	_, err := h.pool.Exec(r.Context(), "insert_session",
		id, req.Sport, req.LocationName, req.Lat, req.Lon,
		req.ScheduledStart.UTC(), req.DurationMinutes, req.Capacity, userID)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to create session")
		return
	}
	_, _ = h.pool.Exec(r.Context(), "touch_user_activity", userID)

	respond.WriteJSONObject(w, http.StatusCreated, sessionResponse{
		ID:              id,
		Sport:           req.Sport,
		LocationName:    req.LocationName,
		Lat:             req.Lat,
		Lon:             req.Lon,
		ScheduledStart:  req.ScheduledStart.UTC(),
		DurationMinutes: req.DurationMinutes,
		Capacity:        req.Capacity,
		CreatorID:       userID,
	})
}

// NearbySessions lists upcoming sessions, optionally filtered by a
// haversine radius around lat/lon.
// @Summary List upcoming sessions near a point
// @Tags sessions
// @Produce json
// @Param lat query number false "Latitude"
// @Param lon query number false "Longitude"
// @Param radius_km query number false "Radius in km (default 10)"
// @Success 200 {object} map[string]interface{}
// @Router /sessions/nearby [get]
func (h *Handler) NearbySessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	hasPoint := latErr == nil && lonErr == nil

	radius := 10.0
	if v, err := strconv.ParseFloat(q.Get("radius_km"), 64); err == nil && v > 0 {
		radius = v
	}

	rows, err := h.pool.Query(r.Context(), "upcoming_sessions", maxUpcomingSessions)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to list sessions")
		return
	}
	defer rows.Close()

	sessions := make([]sessionResponse, 0)
	for rows.Next() {
		var s sessionResponse
		if err := rows.Scan(&s.ID, &s.Sport, &s.LocationName, &s.Lat, &s.Lon,
			&s.ScheduledStart, &s.DurationMinutes, &s.Capacity, &s.CreatorID); err != nil {
			respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to read sessions")
			return
		}
		if hasPoint && s.Lat != nil && s.Lon != nil {
			d := geo.DistanceKM(lat, lon, *s.Lat, *s.Lon)
			if d > radius {
				continue
			}
			s.DistanceKM = &d
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to read sessions")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// JoinSession adds the caller as a pending participant.
// @Summary Join a session
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /sessions/{id}/join [post]
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid session id")
		return
	}

	if _, err := h.pool.Exec(r.Context(), "insert_participant", sessionID, userID); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to join session")
		return
	}
	_, _ = h.pool.Exec(r.Context(), "touch_user_activity", userID)
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "pending"})
}

// ConfirmParticipant confirms a pending participant. Only the session
// creator may confirm.
// @Summary Confirm a participant
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} respond.ErrorResponse
// @Router /sessions/{id}/confirm/{userID} [post]
func (h *Handler) ConfirmParticipant(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserID(r.Context())
	if !ok {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid session id")
		return
	}
	participantID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}

	var creatorID uuid.UUID
	if err := h.pool.QueryRow(r.Context(), "session_creator", sessionID).Scan(&creatorID); err != nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}
	if creatorID != callerID {
		respond.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Only the session creator can confirm participants")
		return
	}

	if _, err := h.pool.Exec(r.Context(), "confirm_participant", sessionID, participantID); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to confirm participant")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "confirmed"})
}
