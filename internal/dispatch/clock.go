package dispatch

import "time"

// Clock supplies the canonical "now" for a run. Injectable for tests.
type Clock func() time.Time

// LocalTime converts an instant to the product's reference clock. The
// product pins a single regional offset for all users; per-user timezones
// stay pluggable through this type but are not the default behavior.
type LocalTime func(time.Time) time.Time

// FixedOffsetLocal returns a LocalTime for a fixed offset in minutes east
// of UTC.
func FixedOffsetLocal(offsetMinutes int) LocalTime {
	loc := time.FixedZone("local", offsetMinutes*60)
	return func(t time.Time) time.Time { return t.In(loc) }
}

// Evaluator maps "now" to the set of rules that are live for one
// invocation. Session-scoped and inactivity rules are live on every
// invocation — their bounds apply per entity in the selector. Local-clock
// rules are live only inside their target hour.
type Evaluator struct {
	Local LocalTime
}

// Active filters the rule table down to the rules live at now.
func (e Evaluator) Active(rules []Rule, now time.Time) []Rule {
	local := e.Local(now)
	var live []Rule
	for _, r := range rules {
		switch r.Kind {
		case KindSessionStart, KindSessionEnd, KindInactivity:
			live = append(live, r)
		case KindDailyLocal:
			if local.Hour() == r.LocalHour {
				live = append(live, r)
			}
		case KindWeeklyLocal:
			if local.Weekday() == r.LocalWeekday && local.Hour() == r.LocalHour {
				live = append(live, r)
			}
		}
	}
	return live
}

// SessionWindow translates a session rule's now-relative bound pair into an
// absolute half-open interval over the anchored session time.
//
// Start-anchored: start ∈ [now+Lo, now+Hi), so the 2-hour rule is live
// exactly when T-2h15m < now <= T-2h for a session starting at T.
// End-anchored: end ∈ (now-Hi, now-Lo].
func (e Evaluator) SessionWindow(r Rule, now time.Time) (from, to time.Time) {
	switch r.Kind {
	case KindSessionStart:
		return now.Add(r.Lo), now.Add(r.Hi)
	case KindSessionEnd:
		return now.Add(-r.Hi), now.Add(-r.Lo)
	}
	return now, now
}

// DayStart returns the start of the current local calendar day as an
// absolute instant, comparable with stored UTC timestamps.
func (e Evaluator) DayStart(now time.Time) time.Time {
	l := e.Local(now)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}

// DayBounds returns the [start, end) interval of the current local day.
func (e Evaluator) DayBounds(now time.Time) (from, to time.Time) {
	from = e.DayStart(now)
	return from, from.AddDate(0, 0, 1)
}

// WeekStart returns the start of the current local ISO week (Monday 00:00).
func (e Evaluator) WeekStart(now time.Time) time.Time {
	day := e.DayStart(now)
	// time.Weekday: Sunday == 0; ISO weeks start on Monday.
	back := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -back)
}
