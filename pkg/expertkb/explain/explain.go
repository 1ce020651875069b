// Package explain answers why a conclusion holds and how a goal could be
// reached. Explanations are read-only walks over the rules and facts of a
// store.
package explain

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// DefaultMaxDepth bounds the recursion of a single explanation.
const DefaultMaxDepth = 32

// derivableWeight discounts a dependency that is not known but can be derived.
const derivableWeight = 0.8

// ItemKind classifies an explanation item
type ItemKind string

const (
	ItemFact      ItemKind = "fact"
	ItemRule      ItemKind = "rule"
	ItemInference ItemKind = "inference"
)

// Item is one node of a why-explanation.
type Item struct {
	Kind         ItemKind        `json:"type"`
	Description  string          `json:"description"`
	Rule         *store.Rule     `json:"rule,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Confidence   float64         `json:"confidence"`
	Satisfied    bool            `json:"satisfied"`
	Reason       string          `json:"reason,omitempty"`
	Sub          *WhyExplanation `json:"subExplanation,omitempty"`
}

// WhyExplanation answers "why does target hold?". Found is true when at
// least one path to target is satisfied.
type WhyExplanation struct {
	Target      string `json:"target"`
	Found       bool   `json:"found"`
	Explanation []Item `json:"explanation"`
}

// StrategyKind classifies a how-strategy
type StrategyKind string

const (
	StrategyDirect     StrategyKind = "direct"
	StrategyInference  StrategyKind = "inference"
	StrategyImpossible StrategyKind = "impossible"
)

// Strategy is one way of reaching a goal.
type Strategy struct {
	Kind          StrategyKind `json:"type"`
	Description   string       `json:"description"`
	Steps         []string     `json:"steps"`
	RequiredFacts []string     `json:"requiredFacts"`
	RequiredRules []store.Rule `json:"requiredRules"`
	Feasible      bool         `json:"feasible"`
	Confidence    float64      `json:"confidence"`
}

// HowExplanation lists strategies feasible first, then by descending
// confidence.
type HowExplanation struct {
	Goal       string     `json:"goal"`
	Strategies []Strategy `json:"strategies"`
}

// Options configures an Explainer. Zero values select the defaults.
type Options struct {
	MaxDepth int
	Matcher  *match.Matcher
	Logger   *zap.Logger
}

// Explainer builds explanations from a store. It never mutates the store.
type Explainer struct {
	store    store.Store
	matcher  *match.Matcher
	log      *zap.Logger
	maxDepth int
}

// New creates an explainer over st.
func New(st store.Store, opts Options) *Explainer {
	x := &Explainer{
		store:    st,
		matcher:  opts.Matcher,
		log:      opts.Logger,
		maxDepth: opts.MaxDepth,
	}
	if x.matcher == nil {
		x.matcher = match.New(match.Permissive)
	}
	if x.log == nil {
		x.log = zap.NewNop()
	}
	if x.maxDepth <= 0 {
		x.maxDepth = DefaultMaxDepth
	}
	return x
}

// walk is the state of one explanation call over a fixed view of the store.
type walk struct {
	x       *Explainer
	facts   []store.Fact
	rules   []store.Rule
	visited map[string]bool
}

func (x *Explainer) newWalk() *walk {
	return &walk{
		x:       x,
		facts:   x.store.GetAllFacts(),
		rules:   x.store.GetActiveRules(),
		visited: make(map[string]bool),
	}
}

func (w *walk) rulesFor(goal string) []store.Rule {
	var out []store.Rule
	for _, r := range w.rules {
		if w.x.matcher.ConcludesGoal(r, goal) {
			out = append(out, r)
		}
	}
	return out
}

// Why explains why target holds.
func (x *Explainer) Why(target string) WhyExplanation {
	w := x.newWalk()
	out := w.why(normalize.Text(target), 0)
	x.log.Debug("why explanation", zap.String("target", out.Target), zap.Bool("found", out.Found))
	return out
}

func (w *walk) why(target string, depth int) WhyExplanation {
	out := WhyExplanation{Target: target, Explanation: []Item{}}
	if target == "" {
		return out
	}

	g := match.ParseGoal(target)
	rules := w.rulesFor(target)
	if f, known, holds := w.x.matcher.KnownGoal(g, w.facts); known {
		item := Item{Kind: ItemFact, Reason: f.Description}
		if holds {
			item.Description = fmt.Sprintf("%q is a known fact (%s = %s)", target, f.Name, f.Value)
			item.Confidence = f.Confidence
			item.Satisfied = true
			out.Found = true
		} else {
			item.Description = fmt.Sprintf("%q is known to be %s", g.Name, f.Value)
		}
		out.Explanation = append(out.Explanation, item)
		// A rule may still set a valued goal's fact to the wanted value.
		if holds || !g.Valued || len(rules) == 0 {
			return out
		}
	}

	if len(rules) == 0 {
		out.Explanation = append(out.Explanation, Item{
			Kind:        ItemFact,
			Description: fmt.Sprintf("%q is not a known fact and no rule concludes it", target),
			Reason:      "unknown",
		})
		return out
	}

	w.visited[target] = true
	defer delete(w.visited, target)

	for _, r := range rules {
		deps := make([]dependency, len(r.Terms))
		names := make([]string, len(r.Terms))
		for i, t := range r.Terms {
			deps[i] = w.resolve(t, depth+1)
			names[i] = t.String()
		}

		rule := r
		item := Item{
			Kind:         ItemRule,
			Description:  fmt.Sprintf("rule %q: %s", r.DisplayName(), r),
			Rule:         &rule,
			Dependencies: names,
			Confidence:   averageConfidence(deps),
			Satisfied:    allReachable(deps),
		}
		if !item.Satisfied {
			item.Reason = "some dependencies are not satisfied"
		}
		out.Explanation = append(out.Explanation, item)
		if item.Satisfied {
			out.Found = true
		}

		for i, d := range deps {
			dep := Item{
				Kind:       ItemInference,
				Confidence: d.confidence,
				Satisfied:  d.reachable(),
				Reason:     d.reason,
			}
			if dep.Satisfied {
				dep.Description = fmt.Sprintf("dependency %q is satisfied", names[i])
			} else {
				dep.Description = fmt.Sprintf("dependency %q is not satisfied", names[i])
			}
			if d.derivable && depth+1 < w.x.maxDepth {
				sub := w.why(d.goal, depth+1)
				dep.Sub = &sub
			}
			out.Explanation = append(out.Explanation, dep)
		}
	}
	return out
}

// How lists the ways goal could be reached.
func (x *Explainer) How(goal string) HowExplanation {
	w := x.newWalk()
	target := normalize.Text(goal)
	out := HowExplanation{Goal: target, Strategies: []Strategy{}}
	if target == "" {
		return out
	}

	direct := false
	if f, _, holds := x.matcher.KnownGoal(match.ParseGoal(target), w.facts); holds {
		direct = true
		out.Strategies = append(out.Strategies, Strategy{
			Kind:        StrategyDirect,
			Description: fmt.Sprintf("%q is already a known fact", target),
			Steps: []string{
				fmt.Sprintf("fact %q is available", f.Name),
				fmt.Sprintf("current value: %s", f.Value),
				fmt.Sprintf("type: %s", f.Value.Kind()),
			},
			RequiredFacts: []string{},
			RequiredRules: []store.Rule{},
			Feasible:      true,
			Confidence:    f.Confidence,
		})
	}

	rules := w.rulesFor(target)
	if len(rules) == 0 && !direct {
		out.Strategies = append(out.Strategies, Strategy{
			Kind:        StrategyImpossible,
			Description: fmt.Sprintf("%q cannot be reached with the current knowledge", target),
			Steps: []string{
				"no known fact matches the goal",
				"no rule concludes the goal",
				"add a relevant fact or rule",
			},
			RequiredFacts: []string{target},
			RequiredRules: []store.Rule{},
		})
		return out
	}

	w.visited[target] = true
	for _, r := range rules {
		out.Strategies = append(out.Strategies, w.strategy(r))
	}
	delete(w.visited, target)

	sort.SliceStable(out.Strategies, func(i, j int) bool {
		a, b := out.Strategies[i], out.Strategies[j]
		if a.Feasible != b.Feasible {
			return a.Feasible
		}
		return a.Confidence > b.Confidence
	})
	x.log.Debug("how explanation", zap.String("goal", target), zap.Int("strategies", len(out.Strategies)))
	return out
}

func (w *walk) strategy(r store.Rule) Strategy {
	s := Strategy{
		Steps: []string{
			fmt.Sprintf("apply rule %q", r.DisplayName()),
			fmt.Sprintf("condition: %s", r.Condition),
			fmt.Sprintf("result: %s", r.Conclusion),
		},
		RequiredFacts: []string{},
		RequiredRules: []store.Rule{r},
		Feasible:      true,
	}

	deps := make([]dependency, len(r.Terms))
	seenRule := map[string]bool{r.ID: true}
	for i, t := range r.Terms {
		d := w.resolve(t, 1)
		deps[i] = d

		switch {
		case d.satisfied:
			s.Steps = append(s.Steps, fmt.Sprintf("satisfied: %s", t))
		case d.derivable:
			s.Steps = append(s.Steps, fmt.Sprintf("not yet known: %s", t))
			s.Steps = append(s.Steps, fmt.Sprintf("  can be derived through: %s", ruleNames(d.rules)))
			for _, dr := range d.rules {
				if !seenRule[dr.ID] {
					seenRule[dr.ID] = true
					s.RequiredRules = append(s.RequiredRules, dr)
				}
			}
		default:
			s.Feasible = false
			s.Steps = append(s.Steps, fmt.Sprintf("not satisfied: %s", t))
			s.Steps = append(s.Steps, "  must be added as a fact")
			s.RequiredFacts = appendUnique(s.RequiredFacts, d.missing...)
		}
	}
	if len(deps) == 0 {
		s.Feasible = false
	}

	s.Confidence = averageConfidence(deps)
	if s.Feasible {
		s.Kind = StrategyInference
		s.Description = fmt.Sprintf("can be reached by applying rule %q", r.DisplayName())
	} else {
		s.Kind = StrategyImpossible
		s.Description = fmt.Sprintf("rule %q needs additional facts", r.DisplayName())
	}
	return s
}

func ruleNames(rules []store.Rule) string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.DisplayName()
	}
	return strings.Join(names, ", ")
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}
