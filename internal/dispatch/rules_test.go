package dispatch

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRuleTableGuardColumns(t *testing.T) {
	for _, r := range Rules {
		if r.ConsentColumn == "" {
			t.Errorf("%s: every rule needs a consent column", r.Name)
		}
		if r.SessionScoped() {
			if r.MarkerColumn == "" {
				t.Errorf("%s: session rule needs a sent marker column", r.Name)
			}
			if r.LastSentColumn != "" {
				t.Errorf("%s: session rule must not carry a last-sent column", r.Name)
			}
			if r.Hi <= r.Lo {
				t.Errorf("%s: window [%v, %v) is empty", r.Name, r.Lo, r.Hi)
			}
		} else {
			if r.LastSentColumn == "" {
				t.Errorf("%s: user rule needs a last-sent column", r.Name)
			}
			if r.MarkerColumn != "" {
				t.Errorf("%s: user rule must not carry a marker column", r.Name)
			}
		}
		if r.Kind == KindInactivity && r.ResendPeriod <= 0 {
			t.Errorf("%s: inactivity rule needs a resend period", r.Name)
		}
		if r.LinkPath == "" {
			t.Errorf("%s: missing deep link path", r.Name)
		}
	}
}

func TestRuleTableCatalogCoverage(t *testing.T) {
	for _, r := range Rules {
		for _, lang := range []string{"en", "es"} {
			if len(variants(r.Name, lang)) == 0 {
				t.Errorf("%s: no %s catalog", r.Name, lang)
			}
		}
	}
	if len(variants(EventSessionCancelled, "en")) == 0 {
		t.Errorf("cancellation notice has no English catalog")
	}
}

func TestRuleByName(t *testing.T) {
	r, ok := RuleByName(RuleWeeklyRecap)
	if !ok || r.Name != RuleWeeklyRecap {
		t.Fatalf("lookup of %s failed", RuleWeeklyRecap)
	}
	if _, ok := RuleByName("no_such_rule"); ok {
		t.Fatalf("unknown name should not resolve")
	}
}

func TestLinkSubstitutesSessionID(t *testing.T) {
	id := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

	r := mustRule(t, RuleReminder1hr)
	link := r.Link("https://tribe.fit", id)
	if link != "https://tribe.fit/sessions/"+id.String() {
		t.Fatalf("session link = %q", link)
	}

	r = mustRule(t, RuleMorningMotivation)
	link = r.Link("https://tribe.fit", uuid.Nil)
	if link != "https://tribe.fit/discover" {
		t.Fatalf("user link = %q", link)
	}
	if strings.Contains(link, "%s") {
		t.Fatalf("unexpanded verb in link: %q", link)
	}
}
