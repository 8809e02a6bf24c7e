package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Rule names. Also the catalog keys and the `rule` value in notification_log.
const (
	RuleReminder2hr       = "reminder_2hr"
	RuleReminder1hr       = "reminder_1hr"
	RuleReminder15min     = "reminder_15min"
	RuleFollowup          = "followup"
	RuleMorningMotivation = "morning_motivation"
	RuleWeeklyRecap       = "weekly_recap"
	RuleInactivityNudge   = "inactivity_nudge"
)

// Rules is the full dispatch rule table. Each rule is declared as data;
// the engine contains no per-rule code paths beyond the kind switch.
var Rules = []Rule{
	{
		Name:          RuleReminder2hr,
		Kind:          KindSessionStart,
		Lo:            reminder2hrLo,
		Hi:            reminder2hrHi,
		MarkerColumn:  "reminder_2hr_sent",
		ConsentColumn: "notify_reminders",
		LinkPath:      "/sessions/%s",
	},
	{
		Name:          RuleReminder1hr,
		Kind:          KindSessionStart,
		Lo:            reminder1hrLo,
		Hi:            reminder1hrHi,
		MarkerColumn:  "reminder_1hr_sent",
		ConsentColumn: "notify_reminders",
		LinkPath:      "/sessions/%s",
	},
	{
		Name:          RuleReminder15min,
		Kind:          KindSessionStart,
		Lo:            reminder15minLo,
		Hi:            reminder15minHi,
		MarkerColumn:  "reminder_15min_sent",
		ConsentColumn: "notify_reminders",
		LinkPath:      "/sessions/%s",
	},
	{
		Name:          RuleFollowup,
		Kind:          KindSessionEnd,
		Lo:            followupLo,
		Hi:            followupHi,
		MarkerColumn:  "followup_sent",
		ConsentColumn: "notify_reminders",
		LinkPath:      "/sessions/%s",
	},
	{
		Name:           RuleMorningMotivation,
		Kind:           KindDailyLocal,
		LocalHour:      morningHour,
		LastSentColumn: "last_motivation_sent",
		ConsentColumn:  "notify_motivation",
		UseRecency:     true,
		LinkPath:       "/discover",
	},
	{
		Name:           RuleWeeklyRecap,
		Kind:           KindWeeklyLocal,
		LocalWeekday:   recapWeekday,
		LocalHour:      recapHour,
		LastSentColumn: "last_recap_sent",
		ConsentColumn:  "notify_recap",
		LinkPath:       "/recap",
	},
	{
		Name:           RuleInactivityNudge,
		Kind:           KindInactivity,
		Lo:             inactivityThreshold,
		Hi:             churnCutoff,
		LastSentColumn: "last_inactivity_sent",
		ConsentColumn:  "notify_inactivity",
		ResendPeriod:   inactivityThreshold,
		LinkPath:       "/discover",
	},
}

// RuleByName looks a rule up in the table.
func RuleByName(name string) (Rule, bool) {
	for _, r := range Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Link builds the deep link for a rule. sessionID is ignored for
// user-scoped rules.
func (r Rule) Link(baseURL string, sessionID uuid.UUID) string {
	if strings.Contains(r.LinkPath, "%s") {
		return baseURL + fmt.Sprintf(r.LinkPath, sessionID)
	}
	return baseURL + r.LinkPath
}
