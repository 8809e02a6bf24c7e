package dispatch

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Resolve picks a message variant for a rule and substitutes placeholders.
// Pure: no I/O, deterministic for a given rng. For recency-aware rules the
// pick is uniform among variants not in recency, falling back to the full
// catalog when every variant is excluded. Returns the chosen variant index
// so the caller can commit it to the recency list alongside the guard.
//
// An unresolved placeholder fails the resolution — raw {placeholder} syntax
// must never reach user-visible text.
func Resolve(rule Rule, language string, vars map[string]string, recency []int, rng *rand.Rand) (Message, int, error) {
	templates := variants(rule.Name, language)
	if len(templates) == 0 {
		return Message{}, 0, fmt.Errorf("no catalog for rule %q", rule.Name)
	}

	idx := pickVariant(len(templates), recency, rng)
	tpl := templates[idx]

	title, err := substitute(tpl.Title, vars)
	if err != nil {
		return Message{}, 0, fmt.Errorf("resolve %s title: %w", rule.Name, err)
	}
	body, err := substitute(tpl.Body, vars)
	if err != nil {
		return Message{}, 0, fmt.Errorf("resolve %s body: %w", rule.Name, err)
	}
	return Message{Title: title, Body: body}, idx, nil
}

// pickVariant picks uniformly among variant indices not present in recency.
func pickVariant(n int, recency []int, rng *rand.Rand) int {
	if len(recency) == 0 {
		return rng.IntN(n)
	}

	used := make(map[int]bool, len(recency))
	for _, i := range recency {
		used[i] = true
	}

	eligible := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !used[i] {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		// Catalog smaller than the recency cap: everything was used
		// recently, fall back to the full catalog.
		return rng.IntN(n)
	}
	return eligible[rng.IntN(len(eligible))]
}

// substitute replaces {name} placeholders from vars. Fails if any
// placeholder has no value.
func substitute(s string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// appendRecency appends a variant index, evicting from the front once the
// list exceeds the cap.
func appendRecency(list []int, idx int) []int {
	out := append(append([]int(nil), list...), idx)
	if len(out) > recencyCap {
		out = out[len(out)-recencyCap:]
	}
	return out
}

// CancellationMessage resolves the session-cancelled notice for the
// LISTEN/NOTIFY consumer. Falls back to English like every other resolve.
func CancellationMessage(language, sport, location string) (Message, error) {
	templates := variants(EventSessionCancelled, language)
	if len(templates) == 0 {
		return Message{}, fmt.Errorf("no catalog for %s", EventSessionCancelled)
	}
	vars := map[string]string{"sport": sport, "location": location}
	title, err := substitute(templates[0].Title, vars)
	if err != nil {
		return Message{}, err
	}
	body, err := substitute(templates[0].Body, vars)
	if err != nil {
		return Message{}, err
	}
	return Message{Title: title, Body: body}, nil
}
