package dispatch

import (
	"testing"
	"time"
)

// madrid is the pinned reference clock used across these tests, UTC+1.
var madrid = FixedOffsetLocal(60)

func mustRule(t *testing.T, name string) Rule {
	t.Helper()
	r, ok := RuleByName(name)
	if !ok {
		t.Fatalf("rule %q not in table", name)
	}
	return r
}

func TestSessionWindowStartAnchored(t *testing.T) {
	eval := Evaluator{Local: madrid}
	rule := mustRule(t, RuleReminder2hr)
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

	from, to := eval.SessionWindow(rule, now)

	if !from.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("window from = %v, want now+2h", from)
	}
	if !to.Equal(now.Add(2*time.Hour + 15*time.Minute)) {
		t.Fatalf("window to = %v, want now+2h15m", to)
	}

	// Selection is start >= from AND start < to: a session starting exactly
	// at now+2h is due, one at now+2h15m is not yet.
	inside := now.Add(2 * time.Hour)
	outside := now.Add(2*time.Hour + 15*time.Minute)
	if inside.Before(from) || !inside.Before(to) {
		t.Fatalf("start exactly at lower bound should be inside the window")
	}
	if outside.Before(to) {
		t.Fatalf("start exactly at upper bound should be outside the window")
	}
}

func TestSessionWindowEndAnchored(t *testing.T) {
	eval := Evaluator{Local: madrid}
	rule := mustRule(t, RuleFollowup)
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

	from, to := eval.SessionWindow(rule, now)

	if !from.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("window from = %v, want now-24h", from)
	}
	if !to.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("window to = %v, want now-2h", to)
	}
}

func TestActiveSessionRulesAlwaysLive(t *testing.T) {
	eval := Evaluator{Local: madrid}
	// 03:30 local, nowhere near any local-clock target.
	now := time.Date(2026, time.March, 4, 2, 30, 0, 0, time.UTC)

	live := eval.Active(Rules, now)

	names := make(map[string]bool)
	for _, r := range live {
		names[r.Name] = true
	}
	for _, want := range []string{RuleReminder2hr, RuleReminder1hr, RuleReminder15min, RuleFollowup, RuleInactivityNudge} {
		if !names[want] {
			t.Fatalf("expected %s live at any hour", want)
		}
	}
	if names[RuleMorningMotivation] || names[RuleWeeklyRecap] {
		t.Fatalf("local-clock rules should not be live at 03:30 local")
	}
}

func TestActiveDailyLocalHour(t *testing.T) {
	eval := Evaluator{Local: madrid}

	// 07:30 UTC is 08:30 local: morning motivation live.
	now := time.Date(2026, time.March, 4, 7, 30, 0, 0, time.UTC)
	if !containsRule(eval.Active(Rules, now), RuleMorningMotivation) {
		t.Fatalf("morning motivation should be live at 08:30 local")
	}

	// 08:30 UTC is 09:30 local: hour passed.
	now = time.Date(2026, time.March, 4, 8, 30, 0, 0, time.UTC)
	if containsRule(eval.Active(Rules, now), RuleMorningMotivation) {
		t.Fatalf("morning motivation should not be live at 09:30 local")
	}
}

func TestActiveWeeklyLocal(t *testing.T) {
	eval := Evaluator{Local: madrid}

	// Sunday 2026-03-08 17:30 UTC is Sunday 18:30 local: recap live.
	now := time.Date(2026, time.March, 8, 17, 30, 0, 0, time.UTC)
	if !containsRule(eval.Active(Rules, now), RuleWeeklyRecap) {
		t.Fatalf("weekly recap should be live Sunday 18:30 local")
	}

	// Same hour on Saturday: wrong weekday.
	now = time.Date(2026, time.March, 7, 17, 30, 0, 0, time.UTC)
	if containsRule(eval.Active(Rules, now), RuleWeeklyRecap) {
		t.Fatalf("weekly recap should not be live on Saturday")
	}
}

func TestDayStartUsesLocalCalendar(t *testing.T) {
	eval := Evaluator{Local: madrid}
	// 23:30 UTC on March 3rd is already 00:30 on March 4th local.
	now := time.Date(2026, time.March, 3, 23, 30, 0, 0, time.UTC)

	start := eval.DayStart(now)
	// Local midnight March 4th is 23:00 UTC March 3rd.
	want := time.Date(2026, time.March, 3, 23, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("day start = %v, want %v", start.UTC(), want)
	}

	from, to := eval.DayBounds(now)
	if !from.Equal(start) || !to.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("day bounds = [%v, %v), want [%v, %v)", from, to, start, start.AddDate(0, 0, 1))
	}
}

func TestWeekStartIsLocalMonday(t *testing.T) {
	eval := Evaluator{Local: madrid}
	// Wednesday 2026-03-04.
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

	ws := eval.WeekStart(now)
	// Monday 2026-03-02 00:00 local is Sunday 23:00 UTC.
	want := time.Date(2026, time.March, 1, 23, 0, 0, 0, time.UTC)
	if !ws.Equal(want) {
		t.Fatalf("week start = %v, want %v", ws.UTC(), want)
	}

	// A Monday maps to itself.
	monday := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	if !eval.WeekStart(monday).Equal(want) {
		t.Fatalf("week start on a Monday should be that Monday")
	}

	// A Sunday still belongs to the week started the previous Monday.
	sunday := time.Date(2026, time.March, 8, 10, 0, 0, 0, time.UTC)
	if !eval.WeekStart(sunday).Equal(want) {
		t.Fatalf("Sunday should map back to the previous Monday")
	}
}

func containsRule(rules []Rule, name string) bool {
	for _, r := range rules {
		if r.Name == name {
			return true
		}
	}
	return false
}
