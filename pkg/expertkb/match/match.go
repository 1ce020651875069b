// Package match decides whether facts satisfy rule conditions.
//
// Text terms are matched by normalized equality or, in permissive mode,
// containment in either direction, so "penas" matches the fact
// "tweety tem penas". Structured terms compare a fact value with an operator.
package match

import (
	"fmt"
	"strings"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// Mode selects how text is compared
type Mode int

const (
	// Permissive accepts equality or containment in either direction.
	Permissive Mode = iota
	// Strict accepts normalized equality only.
	Strict
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "permissive"
}

// ParseMode parses "permissive" or "strict"; empty means permissive.
func ParseMode(s string) (Mode, error) {
	switch normalize.Text(s) {
	case "", "permissive":
		return Permissive, nil
	case "strict":
		return Strict, nil
	}
	return Permissive, fmt.Errorf("%w: unknown match mode %q", internalerr.ErrInvalidInput, s)
}

// Matcher evaluates terms against facts. It holds no mutable state and is
// safe for concurrent use.
type Matcher struct {
	mode Mode
}

// New creates a matcher with the given mode.
func New(mode Mode) *Matcher {
	return &Matcher{mode: mode}
}

// Mode returns the text comparison mode.
func (m *Matcher) Mode() Mode {
	return m.mode
}

// TextMatch compares two phrases. Empty text never matches.
func (m *Matcher) TextMatch(a, b string) bool {
	na, nb := normalize.Text(a), normalize.Text(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if m.mode == Strict {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// LookupFact finds a fact by exact normalized name.
func (m *Matcher) LookupFact(name string, facts []store.Fact) (store.Fact, bool) {
	key := normalize.Text(name)
	if key == "" {
		return store.Fact{}, false
	}
	for _, f := range facts {
		if normalize.Text(f.Name) == key {
			return f, true
		}
	}
	return store.Fact{}, false
}

// Goal is a backward chaining target. A phrase goal holds when a fact of
// that name is truthy; a valued goal ("categoria = premium") holds only when
// the fact has exactly that value.
type Goal struct {
	Name   string
	Value  store.Value
	Valued bool
}

// ParseGoal normalizes text into a Goal. Text that does not parse as a
// conclusion stays a phrase.
func ParseGoal(text string) Goal {
	s := normalize.Text(text)
	name, value, err := ParseConclusion(s)
	if err != nil || name == s {
		return Goal{Name: s}
	}
	return Goal{Name: name, Value: value, Valued: true}
}

// KnownGoal looks g up by exact normalized name. known reports whether such
// a fact exists and holds whether it satisfies g.
func (m *Matcher) KnownGoal(g Goal, facts []store.Fact) (f store.Fact, known, holds bool) {
	f, known = m.LookupFact(g.Name, facts)
	if !known {
		return f, false, false
	}
	if g.Valued {
		return f, true, f.Value.Equal(g.Value)
	}
	return f, true, f.Value.Truthy()
}

// EvalTerm reports whether a single fact satisfies a term.
func (m *Matcher) EvalTerm(t store.Term, f store.Fact) bool {
	if t.IsText() {
		return f.Value.Truthy() && m.TextMatch(t.Fact, f.Name)
	}
	if normalize.Text(t.Fact) != normalize.Text(f.Name) {
		return false
	}
	return Compare(f.Value, t.Operator, t.Value)
}

// Satisfied returns the fact that satisfies the term, if any.
func (m *Matcher) Satisfied(t store.Term, facts []store.Fact) (store.Fact, bool) {
	if t.IsText() {
		for _, f := range facts {
			if m.EvalTerm(t, f) {
				return f, true
			}
		}
		return store.Fact{}, false
	}

	f, ok := m.LookupFact(t.Fact, facts)
	if !ok || !Compare(f.Value, t.Operator, t.Value) {
		return store.Fact{}, false
	}
	return f, true
}

// SatisfiedAll checks a conjunction and returns the supporting facts in term
// order. An empty conjunction is never satisfied.
func (m *Matcher) SatisfiedAll(terms []store.Term, facts []store.Fact) ([]store.Fact, bool) {
	if len(terms) == 0 {
		return nil, false
	}
	support := make([]store.Fact, 0, len(terms))
	for _, t := range terms {
		f, ok := m.Satisfied(t, facts)
		if !ok {
			return nil, false
		}
		support = append(support, f)
	}
	return support, true
}

// ConcludesGoal reports whether a rule's conclusion matches goal, either on
// the whole conclusion text or on the target fact name. A valued goal needs
// the same fact name and an equal value.
func (m *Matcher) ConcludesGoal(r store.Rule, goal string) bool {
	g := ParseGoal(goal)
	if g.Valued {
		name, value, err := ParseConclusion(r.Conclusion)
		return err == nil && name == g.Name && value.Equal(g.Value)
	}
	if m.TextMatch(r.Conclusion, goal) {
		return true
	}
	name, _, err := ParseConclusion(r.Conclusion)
	if err != nil {
		return false
	}
	return m.TextMatch(name, goal)
}

// Derives reports whether firing r sets the fact of comparison term t to a
// value that satisfies t. A phrase conclusion sets its fact to true.
func Derives(r store.Rule, t store.Term) bool {
	name, value, err := ParseConclusion(r.Conclusion)
	if err != nil || name != normalize.Text(t.Fact) {
		return false
	}
	return Compare(value, t.Operator, t.Value)
}

// Compare applies op to an actual fact value and an expected term value.
// Operands that cannot be compared yield false.
func Compare(actual store.Value, op store.Operator, expected store.Value) bool {
	if actual.IsZero() {
		return false
	}

	switch op {
	case store.OpEqual:
		return actual.Equal(expected)
	case store.OpNotEqual:
		return !actual.Equal(expected)
	case store.OpLessThan, store.OpLessThanInclusive, store.OpGreaterThan, store.OpGreaterThanInclusive:
		a, okA := actual.Float()
		b, okB := expected.Float()
		if !okA || !okB {
			return false
		}
		switch op {
		case store.OpLessThan:
			return a < b
		case store.OpLessThanInclusive:
			return a <= b
		case store.OpGreaterThan:
			return a > b
		default:
			return a >= b
		}
	case store.OpIn:
		in, ok := contains(expected, actual)
		return ok && in
	case store.OpNotIn:
		in, ok := contains(expected, actual)
		return ok && !in
	case store.OpContains:
		in, ok := contains(actual, expected)
		return ok && in
	case store.OpDoesNotContain:
		in, ok := contains(actual, expected)
		return ok && !in
	}
	return false
}

// contains reports whether haystack holds needle: element membership for
// JSON arrays, substring for text. ok is false when haystack is neither.
func contains(haystack, needle store.Value) (found, ok bool) {
	switch haystack.Kind() {
	case store.KindJSON:
		items := haystack.Items()
		if items == nil {
			return false, false
		}
		for _, item := range items {
			if item.Equal(needle) {
				return true, true
			}
		}
		return false, true
	case store.KindString:
		h, n := normalize.Text(haystack.String()), normalize.Text(needle.String())
		if n == "" {
			return false, true
		}
		return strings.Contains(h, n), true
	}
	return false, false
}
