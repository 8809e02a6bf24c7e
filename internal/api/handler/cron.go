package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/tribeapp/tribe-api/internal/api/respond"
	"github.com/tribeapp/tribe-api/internal/dispatch"
)

// Dispatch runs one engine invocation and returns the run summary. Partial
// delivery failures still yield 200 — only failure to run at all is an
// error status.
// @Summary Run the notification dispatch engine
// @Description Evaluates all dispatch rules (or one, via ?rule=) against current time and sends due notifications. Requires the cron bearer secret.
// @Tags cron
// @Produce json
// @Param rule query string false "Restrict the run to a single rule"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /cron/dispatch [post]
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	only := r.URL.Query().Get("rule")

	summary, err := h.engine.Run(r.Context(), only)
	if err != nil {
		if errors.Is(err, dispatch.ErrRunInProgress) {
			respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
				"status": "already_running",
			})
			return
		}
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DISPATCH_FAILED", "Dispatch run failed", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"ran_at":      summary.RanAt.Format(time.RFC3339),
		"duration_ms": summary.Duration.Milliseconds(),
		"sent":        summary.TotalSent(),
		"failed":      summary.TotalFailed(),
		"rules":       summary.Rules,
		"errors":      summary.Errors,
	})
}

// Rules lists the dispatch rule table.
// @Summary List dispatch rules
// @Description Returns the static rule table: names, kinds, and windows.
// @Tags cron
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /cron/rules [get]
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	rules := make([]map[string]interface{}, 0, len(dispatch.Rules))
	for _, rule := range dispatch.Rules {
		entry := map[string]interface{}{
			"name": rule.Name,
		}
		switch rule.Kind {
		case dispatch.KindSessionStart:
			entry["kind"] = "session_start"
			entry["window"] = [2]string{rule.Lo.String(), rule.Hi.String()}
		case dispatch.KindSessionEnd:
			entry["kind"] = "session_end"
			entry["window"] = [2]string{rule.Lo.String(), rule.Hi.String()}
		case dispatch.KindDailyLocal:
			entry["kind"] = "daily_local"
			entry["local_hour"] = rule.LocalHour
		case dispatch.KindWeeklyLocal:
			entry["kind"] = "weekly_local"
			entry["local_hour"] = rule.LocalHour
			entry["local_weekday"] = rule.LocalWeekday.String()
		case dispatch.KindInactivity:
			entry["kind"] = "inactivity"
			entry["window"] = [2]string{rule.Lo.String(), rule.Hi.String()}
		}
		rules = append(rules, entry)
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"rules": rules})
}
