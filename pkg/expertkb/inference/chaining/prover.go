package chaining

import (
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// prover holds the state of one backward chaining run. visited is the stack
// of goals currently being proven, not a memo of goals already tried.
type prover struct {
	matcher *match.Matcher
	rules   []store.Rule
	facts   []store.Fact
	visited map[string]bool
	now     func() time.Time

	steps []string
	proof []string
	used  []store.Rule
	cycle bool
}

func (p *prover) step(depth int, line string) {
	p.steps = append(p.steps, strings.Repeat("  ", depth)+line)
}

func (p *prover) prove(goal string, depth int) bool {
	goal = normalize.Text(goal)
	if goal == "" {
		return false
	}

	g := match.ParseGoal(goal)
	if f, known, holds := p.matcher.KnownGoal(g, p.facts); known {
		if holds {
			p.step(depth, fmt.Sprintf("%q is a known fact", goal))
			p.proof = append(p.proof, fmt.Sprintf("fact: %s = %s", f.Name, f.Value))
			return true
		}
		p.step(depth, fmt.Sprintf("%q is known to be %s", g.Name, f.Value))
		if !g.Valued {
			return false
		}
	}

	return p.proveWith(goal, depth, func(r store.Rule) bool {
		return p.matcher.ConcludesGoal(r, goal)
	})
}

// proveWith tries the rules accepted by concludes in insertion order. The
// first rule whose terms all hold proves goal.
func (p *prover) proveWith(goal string, depth int, concludes func(store.Rule) bool) bool {
	if p.visited[goal] {
		p.cycle = true
		p.step(depth, fmt.Sprintf("cycle detected at %q", goal))
		return false
	}
	p.visited[goal] = true
	defer delete(p.visited, goal)

	var candidates []store.Rule
	for _, r := range p.rules {
		if concludes(r) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		p.step(depth, fmt.Sprintf("no rule concludes %q", goal))
		return false
	}
	p.step(depth, fmt.Sprintf("%d rule(s) may conclude %q", len(candidates), goal))

	for _, r := range candidates {
		p.step(depth, fmt.Sprintf("trying rule %q", r.DisplayName()))
		if !p.proveTerms(r, depth+1) {
			continue
		}

		p.used = append(p.used, r)
		p.proof = append(p.proof, fmt.Sprintf("rule %s: %s → %s", r.DisplayName(), r.Condition, r.Conclusion))
		p.step(depth, fmt.Sprintf("rule %q proves %q", r.DisplayName(), goal))

		if name, value, err := match.ParseConclusion(r.Conclusion); err == nil {
			p.facts = upsertFact(p.facts, store.Fact{
				Name:       name,
				Value:      value,
				Confidence: r.Confidence,
				CreatedAt:  p.now(),
			})
		}
		return true
	}

	p.step(depth, fmt.Sprintf("could not prove %q", goal))
	return false
}

// proveTerms proves every term of r in order, stopping at the first failure.
func (p *prover) proveTerms(r store.Rule, depth int) bool {
	if len(r.Terms) == 0 {
		return false
	}
	for _, t := range r.Terms {
		if !p.proveTerm(t, depth) {
			p.step(depth, fmt.Sprintf("condition not met: %s", t))
			return false
		}
	}
	return true
}

// proveTerm matches a text term against the facts the way forward chaining
// does and falls back to proving it as a subgoal. A comparison term whose
// fact is absent is proven only through rules that conclude a value
// satisfying it.
func (p *prover) proveTerm(t store.Term, depth int) bool {
	if t.IsText() {
		if f, ok := p.matcher.Satisfied(t, p.facts); ok {
			p.step(depth, fmt.Sprintf("%q holds through fact %q", t.Fact, f.Name))
			p.proof = append(p.proof, fmt.Sprintf("fact: %s = %s", f.Name, f.Value))
			return true
		}
		return p.prove(t.Fact, depth)
	}

	name := normalize.Text(t.Fact)
	f, ok := p.matcher.LookupFact(name, p.facts)
	if !ok {
		derives := func(r store.Rule) bool { return match.Derives(r, t) }
		if !p.proveWith(name, depth, derives) {
			return false
		}
		if f, ok = p.matcher.LookupFact(name, p.facts); !ok {
			return false
		}
	}
	result := match.Compare(f.Value, t.Operator, t.Value)
	p.step(depth, fmt.Sprintf("checking %s with %s = %s: %t", t, f.Name, f.Value, result))
	return result
}
