package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribeapp/tribe-api/internal/cache"
	"github.com/tribeapp/tribe-api/internal/geo"
)

// PGStore is the Postgres-backed Store. Fixed queries use the prepared
// statements registered in internal/db; queries whose column names vary by
// rule are built from the static rule table (never from request input).
type PGStore struct {
	pool   *pgxpool.Pool
	local  LocalTime
	cache  *cache.Cache
	logger *slog.Logger
}

// NewPGStore creates a store over the shared pool. local is the pinned
// reference clock, used to bucket sessions into calendar weeks. The cache
// is optional and only short-circuits run-global context counts.
func NewPGStore(pool *pgxpool.Pool, local LocalTime, c *cache.Cache, logger *slog.Logger) *PGStore {
	return &PGStore{pool: pool, local: local, cache: c, logger: logger}
}

// --------------------------------------------------------------------------
// Session selection and guard
// --------------------------------------------------------------------------

// SessionsDue finds sessions in the rule's window with the sent marker
// still false and expands each to its recipient set.
func (s *PGStore) SessionsDue(ctx context.Context, rule Rule, from, to time.Time) ([]SessionCandidate, error) {
	var sql string
	switch rule.Kind {
	case KindSessionStart:
		sql = fmt.Sprintf(`
			SELECT id, sport, location_name, scheduled_start FROM sessions
			WHERE status = 'active' AND %s = false
			  AND scheduled_start >= $1 AND scheduled_start < $2`, rule.MarkerColumn)
	case KindSessionEnd:
		sql = fmt.Sprintf(`
			SELECT id, sport, location_name, scheduled_start FROM sessions
			WHERE status IN ('active', 'completed') AND %s = false
			  AND scheduled_start + make_interval(mins => duration_minutes) > $1
			  AND scheduled_start + make_interval(mins => duration_minutes) <= $2`, rule.MarkerColumn)
	default:
		return nil, fmt.Errorf("rule %s is not session-scoped", rule.Name)
	}

	rows, err := s.pool.Query(ctx, sql, from, to)
	if err != nil {
		return nil, fmt.Errorf("select sessions for %s: %w", rule.Name, err)
	}
	defer rows.Close()

	var candidates []SessionCandidate
	for rows.Next() {
		var c SessionCandidate
		if err := rows.Scan(&c.SessionID, &c.Sport, &c.LocationName, &c.ScheduledStart); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range candidates {
		recipients, err := s.sessionRecipients(ctx, candidates[i].SessionID)
		if err != nil {
			return nil, fmt.Errorf("recipients for session %s: %w", candidates[i].SessionID, err)
		}
		candidates[i].Recipients = recipients
	}
	return candidates, nil
}

// sessionRecipients expands a session to its creator plus confirmed
// participants. The query deduplicates by user, so a creator who also
// appears as participant is returned once.
func (s *PGStore) sessionRecipients(ctx context.Context, sessionID uuid.UUID) ([]Recipient, error) {
	rows, err := s.pool.Query(ctx, "session_recipients", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.Language, &r.Email, &r.DeviceTokens); err != nil {
			return nil, err
		}
		if len(r.DeviceTokens) == 0 && r.Email == "" {
			continue // no notification channel target
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// ClaimSession flips the rule's sent marker in a single conditional update.
// The marker never transitions back to false.
func (s *PGStore) ClaimSession(ctx context.Context, sessionID uuid.UUID, rule Rule) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE sessions SET %s = true, updated_at = NOW()
		WHERE id = $1 AND %s = false`, rule.MarkerColumn, rule.MarkerColumn),
		sessionID)
	if err != nil {
		return false, fmt.Errorf("claim %s for session %s: %w", rule.Name, sessionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// --------------------------------------------------------------------------
// User selection and guard
// --------------------------------------------------------------------------

const userCandidateColumns = `
	SELECT u.id, u.language, u.email, u.last_activity_at,
	       COALESCE(u.recent_motivation_ids, '{}'), u.last_lat, u.last_lon,
	       COALESCE(array_agg(d.token) FILTER (WHERE d.token IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN devices d ON d.user_id = u.id AND d.active = true`

// UsersDuePeriodic selects daily/weekly rule candidates: consent enabled,
// reachable, last sent before the current period, recently active.
func (s *PGStore) UsersDuePeriodic(ctx context.Context, rule Rule, periodFloor, activeSince time.Time) ([]UserCandidate, error) {
	sql := fmt.Sprintf(userCandidateColumns+`
		WHERE u.%s = true
		  AND (u.%s IS NULL OR u.%s < $1)
		  AND u.last_activity_at >= $2
		GROUP BY u.id
		HAVING COUNT(d.token) > 0 OR u.email <> ''`,
		rule.ConsentColumn, rule.LastSentColumn, rule.LastSentColumn)

	return s.queryUserCandidates(ctx, rule, sql, periodFloor, activeSince)
}

// UsersDueInactivity selects users inside the inactivity bounds whose last
// nudge is older than the resend period.
func (s *PGStore) UsersDueInactivity(ctx context.Context, rule Rule, now time.Time) ([]UserCandidate, error) {
	sql := fmt.Sprintf(userCandidateColumns+`
		WHERE u.%s = true
		  AND u.last_activity_at <= $1
		  AND u.last_activity_at > $2
		  AND (u.%s IS NULL OR u.%s < $3)
		GROUP BY u.id
		HAVING COUNT(d.token) > 0 OR u.email <> ''`,
		rule.ConsentColumn, rule.LastSentColumn, rule.LastSentColumn)

	return s.queryUserCandidates(ctx, rule, sql,
		now.Add(-rule.Lo), now.Add(-rule.Hi), now.Add(-rule.ResendPeriod))
}

func (s *PGStore) queryUserCandidates(ctx context.Context, rule Rule, sql string, args ...any) ([]UserCandidate, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select users for %s: %w", rule.Name, err)
	}
	defer rows.Close()

	var candidates []UserCandidate
	for rows.Next() {
		var c UserCandidate
		if err := rows.Scan(&c.UserID, &c.Language, &c.Email, &c.LastActivityAt,
			&c.Recency, &c.Lat, &c.Lon, &c.DeviceTokens); err != nil {
			return nil, fmt.Errorf("scan user candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ClaimUser advances the rule's last-sent timestamp in a single conditional
// update. For recency rules the updated recency list is written in the same
// statement, so claim, commit, and recency append are atomic — a crash can
// only observe all or nothing.
func (s *PGStore) ClaimUser(ctx context.Context, userID uuid.UUID, rule Rule, periodFloor, now time.Time, recency []int) (bool, error) {
	var (
		sql  string
		args []any
	)
	if rule.UseRecency {
		sql = fmt.Sprintf(`
			UPDATE users SET %s = $2, recent_motivation_ids = $3
			WHERE id = $1 AND (%s IS NULL OR %s < $4)`,
			rule.LastSentColumn, rule.LastSentColumn, rule.LastSentColumn)
		args = []any{userID, now, recency, periodFloor}
	} else {
		sql = fmt.Sprintf(`
			UPDATE users SET %s = $2
			WHERE id = $1 AND (%s IS NULL OR %s < $3)`,
			rule.LastSentColumn, rule.LastSentColumn, rule.LastSentColumn)
		args = []any{userID, now, periodFloor}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("claim %s for user %s: %w", rule.Name, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// --------------------------------------------------------------------------
// Candidate context
// --------------------------------------------------------------------------

// MorningContext counts today's sessions, sessions near the user, and
// distinct athletes training today. The run-global counts are identical for
// every candidate in a run, so they are cached for the fan-out.
func (s *PGStore) MorningContext(ctx context.Context, user UserCandidate, dayStart, dayEnd time.Time) (MorningStats, error) {
	var m MorningStats

	cacheKey := "tribe:morning:" + dayStart.Format("2006-01-02")
	if raw, ok := s.cache.Get(ctx, cacheKey); ok && json.Unmarshal(raw, &m) == nil {
		m.Nearby = 0
	} else {
		if err := s.pool.QueryRow(ctx, "sessions_today_count", dayStart, dayEnd).Scan(&m.SessionsToday); err != nil {
			return m, fmt.Errorf("sessions today: %w", err)
		}
		if err := s.pool.QueryRow(ctx, "participants_today_count", dayStart, dayEnd).Scan(&m.Athletes); err != nil {
			return m, fmt.Errorf("athletes today: %w", err)
		}
		if raw, err := json.Marshal(MorningStats{SessionsToday: m.SessionsToday, Athletes: m.Athletes}); err == nil {
			s.cache.Set(ctx, cacheKey, raw, 10*time.Minute)
		}
	}

	if user.Lat == nil || user.Lon == nil {
		return m, nil
	}

	rows, err := s.pool.Query(ctx, "sessions_today_coords", dayStart, dayEnd)
	if err != nil {
		return m, fmt.Errorf("session coords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lat, lon float64
		if err := rows.Scan(&lat, &lon); err != nil {
			return m, fmt.Errorf("scan coords: %w", err)
		}
		if geo.DistanceKM(*user.Lat, *user.Lon, lat, lon) <= nearbyRadiusKM {
			m.Nearby++
		}
	}
	return m, rows.Err()
}

// RecapContext aggregates the user's completed week: session count, time,
// training partners, first-time partners, and the consecutive-week streak.
func (s *PGStore) RecapContext(ctx context.Context, userID uuid.UUID, weekStart, now time.Time) (RecapStats, error) {
	var st RecapStats
	if err := s.pool.QueryRow(ctx, "recap_week_stats", userID, weekStart, now).Scan(&st.Sessions, &st.Minutes); err != nil {
		return st, fmt.Errorf("week stats: %w", err)
	}
	if err := s.pool.QueryRow(ctx, "recap_partners", userID, weekStart, now).Scan(&st.Partners); err != nil {
		return st, fmt.Errorf("partners: %w", err)
	}
	if err := s.pool.QueryRow(ctx, "recap_new_connections", userID, weekStart, now).Scan(&st.NewConnections); err != nil {
		return st, fmt.Errorf("new connections: %w", err)
	}

	streak, err := s.weekStreak(ctx, userID, weekStart)
	if err != nil {
		return st, err
	}
	st.Streak = streak
	return st, nil
}

// weekStreak counts consecutive calendar weeks with at least one completed
// session, ending at the current (or immediately previous) week. Weeks are
// bucketed with the pinned reference clock, looking back up to a quarter.
func (s *PGStore) weekStreak(ctx context.Context, userID uuid.UUID, weekStart time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, "recap_session_times", userID, weekStart.AddDate(0, 0, -13*7))
	if err != nil {
		return 0, fmt.Errorf("session times: %w", err)
	}
	defer rows.Close()

	weeks := make(map[time.Time]bool)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return 0, fmt.Errorf("scan session time: %w", err)
		}
		l := s.local(t)
		day := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
		monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
		weeks[monday] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	w := weekStart
	if !weeks[w] {
		w = w.AddDate(0, 0, -7) // current week may still be in progress
	}
	streak := 0
	for weeks[w] {
		streak++
		w = w.AddDate(0, 0, -7)
	}
	return streak, nil
}

// --------------------------------------------------------------------------
// Delivery log
// --------------------------------------------------------------------------

// LogDelivery appends one notification_log row. Best effort.
func (s *PGStore) LogDelivery(ctx context.Context, rule string, userID uuid.UUID, sessionID *uuid.UUID, ok bool, sendErr error) {
	errText := ""
	if sendErr != nil {
		errText = sendErr.Error()
	}
	_, err := s.pool.Exec(ctx, "insert_notification_log",
		uuid.New(), rule, userID, sessionID, ok, errText)
	if err != nil {
		s.logger.Warn("notification log write failed", "rule", rule, "user_id", userID, "error", err)
	}
}
