package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when another invocation holds the run lock.
// The claim guards stay correct without the lock; it only avoids doubled
// selector work when the external scheduler overlaps itself.
var ErrRunInProgress = errors.New("dispatch run already in progress")

// MorningStats is the candidate context for the morning motivation rule.
type MorningStats struct {
	SessionsToday int
	Nearby        int
	Athletes      int
}

// RecapStats is the candidate context for the weekly recap rule.
type RecapStats struct {
	Sessions       int
	Minutes        int
	Partners       int
	NewConnections int
	Streak         int
}

// Store is the session/user state boundary. The engine only reads entities
// and writes back the narrow guard fields; everything else belongs to the
// owning system.
type Store interface {
	// SessionsDue returns active sessions whose anchored time falls in
	// [from, to) with the rule's sent marker still false, each expanded to
	// its deduplicated recipient set.
	SessionsDue(ctx context.Context, rule Rule, from, to time.Time) ([]SessionCandidate, error)

	// ClaimSession conditionally flips the rule's sent marker false→true.
	// Returns false when another invocation already claimed it.
	ClaimSession(ctx context.Context, sessionID uuid.UUID, rule Rule) (bool, error)

	// UsersDuePeriodic returns consenting, reachable users whose last-sent
	// timestamp for the rule is null or before periodFloor, and who were
	// active since activeSince.
	UsersDuePeriodic(ctx context.Context, rule Rule, periodFloor, activeSince time.Time) ([]UserCandidate, error)

	// UsersDueInactivity returns users whose last activity is inside the
	// rule's inactivity bounds and whose last nudge is older than the
	// resend period.
	UsersDueInactivity(ctx context.Context, rule Rule, now time.Time) ([]UserCandidate, error)

	// ClaimUser conditionally advances the rule's last-sent timestamp to
	// now. The compare against periodFloor and the write happen in one
	// conditional update; for recency rules the new recency list is written
	// in the same statement.
	ClaimUser(ctx context.Context, userID uuid.UUID, rule Rule, periodFloor, now time.Time, recency []int) (bool, error)

	MorningContext(ctx context.Context, user UserCandidate, dayStart, dayEnd time.Time) (MorningStats, error)
	RecapContext(ctx context.Context, userID uuid.UUID, weekStart, now time.Time) (RecapStats, error)

	// LogDelivery appends an observability row per send attempt. Best
	// effort — failures are logged, never propagated.
	LogDelivery(ctx context.Context, rule string, userID uuid.UUID, sessionID *uuid.UUID, ok bool, sendErr error)
}

// Sender delivers one resolved message to one recipient. Channel selection
// (push vs. email) is the collaborator's concern.
type Sender interface {
	Send(ctx context.Context, to Recipient, msg Message, deepLink string) error
}

// Locker is the optional cross-invocation run lock.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context)
}

// Engine evaluates the rule table and dispatches due notifications.
type Engine struct {
	store   Store
	sender  Sender
	eval    Evaluator
	clock   Clock
	rng     *rand.Rand
	lock    Locker // optional
	baseURL string
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source (tests).
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithRand injects the variant-picking randomness (tests).
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rng = r } }

// WithLock attaches a cross-invocation run lock.
func WithLock(l Locker) Option { return func(e *Engine) { e.lock = l } }

// WithBaseURL sets the deep-link base.
func WithBaseURL(u string) Option { return func(e *Engine) { e.baseURL = u } }

// NewEngine wires an engine. The evaluator carries the pinned local clock.
func NewEngine(store Store, sender Sender, eval Evaluator, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sender: sender,
		eval:   eval,
		clock:  func() time.Time { return time.Now().UTC() },
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one engine invocation. only restricts the run to a single
// rule when non-empty. Rules are failure-isolated: a selector error skips
// that rule and is recorded in the summary; the run itself only errors when
// it could not start at all.
func (e *Engine) Run(ctx context.Context, only string) (*Summary, error) {
	now := e.clock()
	start := time.Now()

	if e.lock != nil {
		ok, err := e.lock.TryLock(ctx)
		if err != nil {
			// Lock backend down: proceed, the claim guards keep us safe.
			e.logger.Warn("run lock unavailable, proceeding", "error", err)
		} else if !ok {
			return nil, ErrRunInProgress
		} else {
			defer e.lock.Unlock(ctx)
		}
	}

	rules := Rules
	if only != "" {
		r, ok := RuleByName(only)
		if !ok {
			return nil, fmt.Errorf("unknown rule %q", only)
		}
		rules = []Rule{r}
	}

	summary := NewSummary(now)
	for _, rule := range e.eval.Active(rules, now) {
		if rule.SessionScoped() {
			e.runSessionRule(ctx, rule, now, summary)
		} else {
			e.runUserRule(ctx, rule, now, summary)
		}
	}

	summary.Duration = time.Since(start)
	e.logger.Info("dispatch run complete",
		"sent", summary.TotalSent(),
		"failed", summary.TotalFailed(),
		"rules", len(summary.Rules),
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// --------------------------------------------------------------------------
// Session-scoped rules
// --------------------------------------------------------------------------

func (e *Engine) runSessionRule(ctx context.Context, rule Rule, now time.Time, summary *Summary) {
	stats := summary.stats(rule.Name)

	from, to := e.eval.SessionWindow(rule, now)
	candidates, err := e.store.SessionsDue(ctx, rule, from, to)
	if err != nil {
		// Skip this rule only; other rules proceed independently.
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: select: %v", rule.Name, err))
		e.logger.Error("candidate selection failed", "rule", rule.Name, "error", err)
		return
	}

	// A recipient present in several due sessions gets one send per rule per
	// invocation, attributed to the soonest session.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ScheduledStart.Before(candidates[j].ScheduledStart)
	})
	seen := make(map[uuid.UUID]bool)
	for _, cand := range candidates {
		kept := make([]Recipient, 0, len(cand.Recipients))
		for _, rcpt := range cand.Recipients {
			if seen[rcpt.UserID] {
				continue
			}
			seen[rcpt.UserID] = true
			kept = append(kept, rcpt)
		}
		cand.Recipients = kept
		e.dispatchSession(ctx, rule, cand, stats, summary)
	}
}

func (e *Engine) dispatchSession(ctx context.Context, rule Rule, cand SessionCandidate, stats *RuleStats, summary *Summary) {
	if len(cand.Recipients) == 0 {
		stats.Skipped++
		return
	}

	vars := map[string]string{
		"sport":    cand.Sport,
		"location": cand.LocationName,
		"hours":    strconv.Itoa(int(rule.Lo.Hours())),
		"minutes":  strconv.Itoa(int(rule.Lo.Minutes())),
	}

	// Resolve every recipient language before claiming, so a resolution
	// failure leaves the marker unset and the session retriable.
	messages := make(map[string]Message)
	for _, rcpt := range cand.Recipients {
		if _, ok := messages[rcpt.Language]; ok {
			continue
		}
		msg, _, err := Resolve(rule, rcpt.Language, vars, nil, e.rng)
		if err != nil {
			stats.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rule.Name, err))
			e.logger.Error("message resolution failed", "rule", rule.Name, "session_id", cand.SessionID, "error", err)
			return
		}
		messages[rcpt.Language] = msg
	}

	claimed, err := e.store.ClaimSession(ctx, cand.SessionID, rule)
	if err != nil {
		stats.Failed++
		e.logger.Error("claim failed", "rule", rule.Name, "session_id", cand.SessionID, "error", err)
		return
	}
	if !claimed {
		// Another invocation won the race. Not an error.
		stats.Skipped++
		return
	}

	link := rule.Link(e.baseURL, cand.SessionID)
	sessionID := cand.SessionID
	for _, rcpt := range cand.Recipients {
		stats.Attempted++
		if err := e.sender.Send(ctx, rcpt, messages[rcpt.Language], link); err != nil {
			stats.Failed++
			e.store.LogDelivery(ctx, rule.Name, rcpt.UserID, &sessionID, false, err)
			e.logger.Warn("delivery failed", "rule", rule.Name, "user_id", rcpt.UserID, "error", err)
			continue
		}
		stats.Sent++
		e.store.LogDelivery(ctx, rule.Name, rcpt.UserID, &sessionID, true, nil)
	}
}

// --------------------------------------------------------------------------
// User-scoped rules
// --------------------------------------------------------------------------

func (e *Engine) runUserRule(ctx context.Context, rule Rule, now time.Time, summary *Summary) {
	stats := summary.stats(rule.Name)

	var (
		candidates  []UserCandidate
		periodFloor time.Time
		err         error
	)
	switch rule.Kind {
	case KindDailyLocal:
		periodFloor = e.eval.DayStart(now)
		candidates, err = e.store.UsersDuePeriodic(ctx, rule, periodFloor, now.Add(-activityRecency))
	case KindWeeklyLocal:
		periodFloor = e.eval.WeekStart(now)
		candidates, err = e.store.UsersDuePeriodic(ctx, rule, periodFloor, now.Add(-activityRecency))
	case KindInactivity:
		periodFloor = now.Add(-rule.ResendPeriod)
		candidates, err = e.store.UsersDueInactivity(ctx, rule, now)
	}
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: select: %v", rule.Name, err))
		e.logger.Error("candidate selection failed", "rule", rule.Name, "error", err)
		return
	}

	for _, user := range candidates {
		e.dispatchUser(ctx, rule, user, now, periodFloor, stats, summary)
	}
}

func (e *Engine) dispatchUser(ctx context.Context, rule Rule, user UserCandidate, now, periodFloor time.Time, stats *RuleStats, summary *Summary) {
	vars, err := e.userVars(ctx, rule, user, now)
	if err != nil {
		stats.Failed++
		e.logger.Warn("context build failed", "rule", rule.Name, "user_id", user.UserID, "error", err)
		return
	}

	var recency []int
	if rule.UseRecency {
		recency = user.Recency
	}
	msg, idx, err := Resolve(rule, user.Language, vars, recency, e.rng)
	if err != nil {
		stats.Failed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rule.Name, err))
		e.logger.Error("message resolution failed", "rule", rule.Name, "user_id", user.UserID, "error", err)
		return
	}

	var newRecency []int
	if rule.UseRecency {
		newRecency = appendRecency(user.Recency, idx)
	}

	claimed, err := e.store.ClaimUser(ctx, user.UserID, rule, periodFloor, now, newRecency)
	if err != nil {
		stats.Failed++
		e.logger.Error("claim failed", "rule", rule.Name, "user_id", user.UserID, "error", err)
		return
	}
	if !claimed {
		stats.Skipped++
		return
	}

	stats.Attempted++
	link := rule.Link(e.baseURL, uuid.Nil)
	if err := e.sender.Send(ctx, user.Recipient, msg, link); err != nil {
		stats.Failed++
		e.store.LogDelivery(ctx, rule.Name, user.UserID, nil, false, err)
		e.logger.Warn("delivery failed", "rule", rule.Name, "user_id", user.UserID, "error", err)
		return
	}
	stats.Sent++
	e.store.LogDelivery(ctx, rule.Name, user.UserID, nil, true, nil)
}

// userVars builds the template variable map for a user-scoped rule.
func (e *Engine) userVars(ctx context.Context, rule Rule, user UserCandidate, now time.Time) (map[string]string, error) {
	switch rule.Kind {
	case KindDailyLocal:
		dayStart, dayEnd := e.eval.DayBounds(now)
		m, err := e.store.MorningContext(ctx, user, dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("morning context: %w", err)
		}
		count := m.SessionsToday
		if user.Lat != nil && user.Lon != nil {
			count = m.Nearby
		}
		return map[string]string{
			"count":    strconv.Itoa(count),
			"sessions": strconv.Itoa(m.SessionsToday),
			"others":   strconv.Itoa(m.Athletes),
		}, nil

	case KindWeeklyLocal:
		st, err := e.store.RecapContext(ctx, user.UserID, e.eval.WeekStart(now), now)
		if err != nil {
			return nil, fmt.Errorf("recap context: %w", err)
		}
		return map[string]string{
			"sessions":        strconv.Itoa(st.Sessions),
			"hours":           formatHours(st.Minutes),
			"partners":        strconv.Itoa(st.Partners),
			"new_connections": strconv.Itoa(st.NewConnections),
			"streak":          strconv.Itoa(st.Streak),
			"next_goal":       strconv.Itoa(st.Sessions + 1),
		}, nil

	case KindInactivity:
		days := int(now.Sub(user.LastActivityAt).Hours() / 24)
		return map[string]string{"days": strconv.Itoa(days)}, nil
	}
	return nil, fmt.Errorf("no context for rule kind %d", rule.Kind)
}

// formatHours renders minutes as whole or half hours ("3", "1.5").
func formatHours(minutes int) string {
	if minutes%60 == 0 {
		return strconv.Itoa(minutes / 60)
	}
	return strconv.FormatFloat(float64(minutes)/60, 'f', 1, 64)
}
