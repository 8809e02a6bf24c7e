package dispatch

import (
	"math/rand/v2"
	"strings"
	"testing"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestResolveSubstitutesPlaceholders(t *testing.T) {
	rule := mustRule(t, RuleReminder15min)
	vars := map[string]string{
		"sport":    "padel",
		"location": "Club Norte",
		"hours":    "0",
		"minutes":  "15",
	}

	msg, _, err := Resolve(rule, "en", vars, nil, testRand())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if strings.Contains(msg.Title, "{") || strings.Contains(msg.Body, "{") {
		t.Fatalf("unsubstituted placeholder in output: %q / %q", msg.Title, msg.Body)
	}
}

func TestResolveFailsOnMissingPlaceholder(t *testing.T) {
	rule := mustRule(t, RuleReminder2hr)
	// location deliberately absent
	vars := map[string]string{"sport": "running", "hours": "2", "minutes": "120"}

	// Every variant of this rule references {location}, so any pick fails.
	_, _, err := Resolve(rule, "en", vars, nil, testRand())
	if err == nil {
		t.Fatalf("expected error for missing placeholder")
	}
	if !strings.Contains(err.Error(), "location") {
		t.Fatalf("error should name the missing placeholder, got: %v", err)
	}
}

func TestResolveLanguageFallback(t *testing.T) {
	rule := mustRule(t, RuleInactivityNudge)
	vars := map[string]string{"days": "5"}

	msg, idx, err := Resolve(rule, "fr", vars, nil, testRand())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Unknown language falls back to the English catalog.
	en := variants(rule.Name, "en")
	want, err := substitute(en[idx].Body, vars)
	if err != nil {
		t.Fatalf("substitute: %v", err)
	}
	if msg.Body != want {
		t.Fatalf("fallback body = %q, want English variant %d", msg.Body, idx)
	}
}

func TestResolveSpanishCatalog(t *testing.T) {
	rule := mustRule(t, RuleInactivityNudge)
	msg, _, err := Resolve(rule, "es", map[string]string{"days": "7"}, nil, testRand())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(msg.Body, "7") {
		t.Fatalf("expected day count in body, got %q", msg.Body)
	}
}

func TestRecencyExcludesUsedVariants(t *testing.T) {
	rule := mustRule(t, RuleMorningMotivation)
	n := len(variants(rule.Name, "en"))
	if n != 10 {
		t.Fatalf("morning catalog has %d variants, want 10", n)
	}

	// Nine of ten variants recently used: the pick must be the remaining one
	// regardless of the rng.
	recency := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}
	vars := map[string]string{"count": "3", "sessions": "5", "others": "12"}

	for seed := uint64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed))
		_, idx, err := Resolve(rule, "en", vars, recency, rng)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if idx != 9 {
			t.Fatalf("seed %d: picked variant %d, want forced 9", seed, idx)
		}
	}
}

func TestRecencyFullCatalogFallback(t *testing.T) {
	rule := mustRule(t, RuleMorningMotivation)
	recency := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	vars := map[string]string{"count": "3", "sessions": "5", "others": "12"}

	// All variants excluded: falls back to the whole catalog instead of
	// failing.
	_, idx, err := Resolve(rule, "en", vars, recency, testRand())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if idx < 0 || idx > 9 {
		t.Fatalf("fallback pick out of range: %d", idx)
	}
}

func TestAppendRecencyEvictsOldest(t *testing.T) {
	var list []int
	for i := 0; i < recencyCap; i++ {
		list = appendRecency(list, i)
	}
	if len(list) != recencyCap {
		t.Fatalf("len = %d, want %d", len(list), recencyCap)
	}

	list = appendRecency(list, 99)
	if len(list) != recencyCap {
		t.Fatalf("len after overflow = %d, want %d", len(list), recencyCap)
	}
	if list[0] != 1 {
		t.Fatalf("oldest entry should be evicted, front = %d", list[0])
	}
	if list[len(list)-1] != 99 {
		t.Fatalf("newest entry should be last, got %d", list[len(list)-1])
	}
}

func TestAppendRecencyDoesNotAliasInput(t *testing.T) {
	orig := []int{1, 2, 3}
	out := appendRecency(orig, 4)
	out[0] = 42
	if orig[0] != 1 {
		t.Fatalf("appendRecency must not mutate its input")
	}
}

func TestCancellationMessage(t *testing.T) {
	msg, err := CancellationMessage("es", "yoga", "Parque Central")
	if err != nil {
		t.Fatalf("cancellation: %v", err)
	}
	if !strings.Contains(msg.Body, "yoga") || !strings.Contains(msg.Body, "Parque Central") {
		t.Fatalf("body missing substitutions: %q", msg.Body)
	}

	// Unknown language falls back to English.
	msg, err = CancellationMessage("de", "yoga", "Parque Central")
	if err != nil {
		t.Fatalf("cancellation fallback: %v", err)
	}
	if !strings.Contains(msg.Title, "cancelled") {
		t.Fatalf("expected English fallback, got %q", msg.Title)
	}
}
