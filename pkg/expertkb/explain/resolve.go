package explain

import (
	"fmt"

	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// dependency is the resolved state of one condition term.
type dependency struct {
	goal       string
	satisfied  bool // holds on the known facts
	derivable  bool // does not hold yet but some rule chain derives it
	confidence float64
	rules      []store.Rule // rules that would fire, outermost first
	missing    []string     // leaf facts that would have to be added
	reason     string
}

func (d dependency) reachable() bool {
	return d.satisfied || d.derivable
}

// resolve decides whether term t holds now or can be derived. A comparison
// term whose fact is absent is derivable only through rules that conclude a
// value satisfying it.
func (w *walk) resolve(t store.Term, depth int) dependency {
	if t.IsText() {
		return w.resolveText(t, depth)
	}

	name := normalize.Text(t.Fact)
	if f, ok := w.x.matcher.LookupFact(name, w.facts); ok {
		if match.Compare(f.Value, t.Operator, t.Value) {
			return dependency{goal: name, satisfied: true, confidence: f.Confidence, reason: fmt.Sprintf("%s = %s", f.Name, f.Value)}
		}
		return dependency{goal: name, missing: []string{t.String()}, reason: fmt.Sprintf("%s is %s", f.Name, f.Value)}
	}

	var rules []store.Rule
	for _, r := range w.rules {
		if match.Derives(r, t) {
			rules = append(rules, r)
		}
	}
	return w.resolveRules(name, t.String(), rules, depth)
}

// resolveText matches a text term the way forward chaining does before
// looking for rules that conclude it.
func (w *walk) resolveText(t store.Term, depth int) dependency {
	goal := normalize.Text(t.Fact)
	if goal == "" {
		return dependency{reason: "empty"}
	}

	if f, ok := w.x.matcher.Satisfied(t, w.facts); ok {
		return dependency{goal: goal, satisfied: true, confidence: f.Confidence, reason: "known fact"}
	}
	if f, ok := w.x.matcher.LookupFact(goal, w.facts); ok {
		return dependency{goal: goal, missing: []string{goal}, reason: fmt.Sprintf("known to be %s", f.Value)}
	}
	return w.resolveRules(goal, goal, w.rulesFor(goal), depth)
}

// resolveRules checks whether any of rules can fire. label names the fact
// that would have to be added when none can.
func (w *walk) resolveRules(goal, label string, rules []store.Rule, depth int) dependency {
	d := dependency{goal: goal}
	if w.visited[goal] {
		d.reason = "cycle"
		return d
	}
	if depth >= w.x.maxDepth {
		d.reason = "depth limit reached"
		return d
	}
	if len(rules) == 0 {
		d.missing = []string{label}
		d.reason = "unknown and no rule concludes it"
		return d
	}

	w.visited[goal] = true
	defer delete(w.visited, goal)

	for _, r := range rules {
		if len(r.Terms) == 0 {
			continue
		}
		var (
			chain   = []store.Rule{r}
			missing []string
			ok      = true
		)
		for _, t := range r.Terms {
			sub := w.resolve(t, depth+1)
			if !sub.reachable() {
				ok = false
				missing = appendUnique(missing, sub.missing...)
				continue
			}
			chain = append(chain, sub.rules...)
		}
		if ok {
			d.derivable = true
			d.rules = chain
			d.confidence = derivableWeight * r.Confidence
			d.reason = fmt.Sprintf("derivable through %s", r.DisplayName())
			d.missing = nil
			return d
		}
		d.missing = appendUnique(d.missing, missing...)
	}

	d.reason = "no rule concluding it can be satisfied"
	return d
}

func allReachable(deps []dependency) bool {
	if len(deps) == 0 {
		return false
	}
	for _, d := range deps {
		if !d.reachable() {
			return false
		}
	}
	return true
}

func averageConfidence(deps []dependency) float64 {
	if len(deps) == 0 {
		return 0
	}
	var total float64
	for _, d := range deps {
		total += d.confidence
	}
	return total / float64(len(deps))
}
