// Package dispatch implements the Tribe notification dispatch engine.
//
// The engine is stateless and invoked periodically from outside (an HTTP
// cron trigger or the dispatch CLI). Each run evaluates a static rule table
// against wall-clock time, selects due sessions and users from Postgres,
// resolves localized message content, fans deliveries out to the send
// collaborator, and records an at-most-once marker per (recipient, rule,
// window) via conditional updates. A run returns a per-rule summary.
//
// Delivery is at-most-once: the conditional claim update is also the commit
// and runs before the send, so a delivery failure after a won claim is
// counted and logged but never retried in a later window.
//
// Pipeline: evaluate windows → select candidates → resolve content →
// claim marker → deliver → report.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// Half-open reminder windows, measured from session start. Widths cover
	// the scheduler's invocation jitter without double-firing at boundaries.
	reminder2hrLo   = 2 * time.Hour
	reminder2hrHi   = 2*time.Hour + 15*time.Minute
	reminder1hrLo   = 1 * time.Hour
	reminder1hrHi   = 1*time.Hour + 5*time.Minute
	reminder15minLo = 15 * time.Minute
	reminder15minHi = 20 * time.Minute

	// Follow-up window, measured from session end.
	followupLo = 2 * time.Hour
	followupHi = 24 * time.Hour

	// Local-clock targets. Correctness for these comes from the per-user
	// period guard, not from a narrow matching window.
	morningHour  = 8
	recapHour    = 18
	recapWeekday = time.Sunday

	// Inactivity bounds: nudge after the threshold, give up past the cutoff.
	inactivityThreshold = 3 * 24 * time.Hour
	churnCutoff         = 60 * 24 * time.Hour

	// Daily and weekly rules only target users active within this bound.
	activityRecency = 30 * 24 * time.Hour

	// Bounded list of recently used morning-motivation variant indices,
	// oldest evicted first.
	recencyCap = 15

	// Sessions within this radius of the user's last known position count
	// as "near you" in motivational copy.
	nearbyRadiusKM = 10.0
)

// --------------------------------------------------------------------------
// Rule table types
// --------------------------------------------------------------------------

// RuleKind selects how a rule's trigger condition is evaluated.
type RuleKind int

const (
	// KindSessionStart rules fire when sessionStart - now falls in [Lo, Hi).
	KindSessionStart RuleKind = iota
	// KindSessionEnd rules fire when now - sessionEnd falls in [Lo, Hi).
	KindSessionEnd
	// KindDailyLocal rules fire on any invocation inside the target local
	// hour, at most once per local calendar day.
	KindDailyLocal
	// KindWeeklyLocal rules fire on the target local weekday and hour, at
	// most once per ISO week.
	KindWeeklyLocal
	// KindInactivity rules fire when now - lastActivity is in [Lo, Hi),
	// re-firing at most once per ResendPeriod.
	KindInactivity
)

// Rule declares one dispatch rule as data: its window, its guard columns,
// and its message catalog key. Column names feed dynamically built SQL and
// must match schema.sql.
type Rule struct {
	Name string
	Kind RuleKind

	// Window bounds. Session kinds: duration relative to start/end.
	// Inactivity: duration since last activity.
	Lo, Hi time.Duration

	// Local-clock targets for daily/weekly kinds.
	LocalHour    int
	LocalWeekday time.Weekday

	// Guard. Session kinds use a boolean sent marker on sessions; user
	// kinds use a last-sent timestamp on users.
	MarkerColumn   string
	LastSentColumn string

	// Per-rule consent flag on users. Defaults to enabled in the schema.
	ConsentColumn string

	// UseRecency enables the bounded variant-recency list (morning
	// motivation only).
	UseRecency bool

	// ResendPeriod is the minimum gap between sends for inactivity rules.
	ResendPeriod time.Duration

	// LinkPath is the deep link appended to the app base URL. A %s verb is
	// substituted with the session ID for session-scoped rules.
	LinkPath string
}

// SessionScoped reports whether the rule targets sessions rather than users.
func (r Rule) SessionScoped() bool {
	return r.Kind == KindSessionStart || r.Kind == KindSessionEnd
}

// --------------------------------------------------------------------------
// Candidate types
// --------------------------------------------------------------------------

// Recipient is the notification-relevant projection of a user.
type Recipient struct {
	UserID       uuid.UUID
	Language     string
	Email        string
	DeviceTokens []string
}

// SessionCandidate is one due session with its expanded recipient set.
// Recipients are the creator plus confirmed participants, deduplicated.
type SessionCandidate struct {
	SessionID      uuid.UUID
	Sport          string
	LocationName   string
	ScheduledStart time.Time
	Recipients     []Recipient
}

// UserCandidate is one due user for a user-scoped rule.
type UserCandidate struct {
	Recipient
	LastActivityAt time.Time
	Recency        []int
	Lat, Lon       *float64
}

// Message is a resolved title/body pair with all placeholders substituted.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// --------------------------------------------------------------------------
// Run summary
// --------------------------------------------------------------------------

// RuleStats aggregates outcomes for one rule in one run.
type RuleStats struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summary is the aggregate result of one engine run, returned to the
// triggering caller.
type Summary struct {
	Rules    map[string]*RuleStats `json:"rules"`
	Errors   []string              `json:"errors,omitempty"`
	Duration time.Duration         `json:"duration_ms"`
	RanAt    time.Time             `json:"ran_at"`
}

// NewSummary creates an empty summary.
func NewSummary(ranAt time.Time) *Summary {
	return &Summary{Rules: make(map[string]*RuleStats), RanAt: ranAt}
}

// stats returns the stats bucket for a rule, creating it on first use.
func (s *Summary) stats(rule string) *RuleStats {
	st, ok := s.Rules[rule]
	if !ok {
		st = &RuleStats{}
		s.Rules[rule] = st
	}
	return st
}

// TotalSent returns the number of successful deliveries across all rules.
func (s *Summary) TotalSent() int {
	n := 0
	for _, st := range s.Rules {
		n += st.Sent
	}
	return n
}

// TotalFailed returns the number of failed deliveries across all rules.
func (s *Summary) TotalFailed() int {
	n := 0
	for _, st := range s.Rules {
		n += st.Failed
	}
	return n
}
