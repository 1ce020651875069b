// Package chaining implements forward and backward chaining over a
// knowledge store.
package chaining

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/expertkb/pkg/expertkb/inference"
	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

const (
	DefaultMaxIterations = 100
	DefaultHistoryLimit  = 100
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	MaxIterations int
	HistoryLimit  int
	Matcher       *match.Matcher
	Logger        *zap.Logger
}

// Engine reasons over the rules and facts of a store. Runs are synchronous;
// the engine only serialises access to its own history.
type Engine struct {
	store   store.Store
	matcher *match.Matcher
	log     *zap.Logger
	now     func() time.Time

	maxIterations int
	historyLimit  int

	mu      sync.Mutex
	history []inference.HistoryEntry
}

var _ inference.Reasoner = (*Engine)(nil)

// New creates an engine bound to st.
func New(st store.Store, opts Options) *Engine {
	e := &Engine{
		store:         st,
		matcher:       opts.Matcher,
		log:           opts.Logger,
		now:           time.Now,
		maxIterations: opts.MaxIterations,
		historyLimit:  opts.HistoryLimit,
	}
	if e.matcher == nil {
		e.matcher = match.New(match.Permissive)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.maxIterations <= 0 {
		e.maxIterations = DefaultMaxIterations
	}
	if e.historyLimit <= 0 {
		e.historyLimit = DefaultHistoryLimit
	}
	return e
}

// Matcher returns the matcher used by the engine.
func (e *Engine) Matcher() *match.Matcher {
	return e.matcher
}

// Forward runs forward chaining. With a nil start the store's facts are used
// and derived facts are written back to the store, so a second run on an
// unchanged store derives nothing. A non-nil start is copied and the store is
// left untouched.
func (e *Engine) Forward(start []store.Fact) inference.ForwardResult {
	input := "store facts"
	if start != nil {
		input = fmt.Sprintf("%d starting facts", len(start))
	}
	res := e.forward(start, start == nil)
	e.record(inference.HistoryEntry{Method: inference.MethodForward, Input: input, Forward: &res})
	return res
}

func (e *Engine) forward(start []store.Fact, persist bool) inference.ForwardResult {
	began := time.Now()
	res := inference.ForwardResult{DerivedFacts: []string{}, AppliedRules: []store.Rule{}}

	var working []store.Fact
	if start == nil {
		working = e.store.GetAllFacts()
	} else {
		working = append([]store.Fact(nil), start...)
	}
	rules := e.store.GetActiveRules()
	applied := make(map[string]bool, len(rules))

	res.Steps = append(res.Steps, fmt.Sprintf("forward chaining started with %d facts and %d active rules", len(working), len(rules)))
	if len(working) > 0 {
		names := make([]string, len(working))
		for i, f := range working {
			names[i] = f.Name
		}
		res.Steps = append(res.Steps, "initial facts: "+strings.Join(names, ", "))
	}

	for {
		if res.Iterations == e.maxIterations {
			if !e.wouldFire(rules, applied, working) {
				break
			}
			res.LimitReached = true
			res.Steps = append(res.Steps, fmt.Sprintf("iteration limit of %d reached; returning partial results", e.maxIterations))
			e.log.Warn("forward chaining hit iteration limit", zap.Int("limit", e.maxIterations), zap.Int("derived", len(res.DerivedFacts)))
			break
		}
		res.Iterations++

		added := false
		for _, r := range rules {
			if applied[r.ID] {
				continue
			}
			support, ok := e.matcher.SatisfiedAll(r.Terms, working)
			if !ok {
				continue
			}
			applied[r.ID] = true

			name, value, err := match.ParseConclusion(r.Conclusion)
			if err != nil {
				res.Steps = append(res.Steps, fmt.Sprintf("rule %q skipped: %v", r.DisplayName(), err))
				continue
			}
			if known, ok := e.matcher.LookupFact(name, working); ok && known.Value.Equal(value) {
				res.Steps = append(res.Steps, fmt.Sprintf("rule %q skipped: %q is already known", r.DisplayName(), name))
				continue
			}

			derived := store.Fact{
				Name:        normalize.Text(name),
				Value:       value,
				Confidence:  derivedConfidence(r, support),
				Description: "derived by " + r.DisplayName(),
				CreatedAt:   e.now(),
			}
			if persist {
				id, err := e.store.AddFact(derived.Name, derived.Value, store.FactOptions{
					Confidence:  store.Ptr(derived.Confidence),
					Description: derived.Description,
				})
				if err != nil {
					res.Steps = append(res.Steps, fmt.Sprintf("rule %q could not store %q: %v", r.DisplayName(), name, err))
					e.log.Warn("storing derived fact failed", zap.String("rule", r.ID), zap.Error(err))
					continue
				}
				derived.ID = id
			}
			working = upsertFact(working, derived)

			added = true
			res.AppliedRules = append(res.AppliedRules, r)
			res.DerivedFacts = append(res.DerivedFacts, derived.Name)
			res.Steps = append(res.Steps, fmt.Sprintf("iteration %d: rule %q fired → %s = %s", res.Iterations, r.DisplayName(), derived.Name, value))
		}

		if !added {
			break
		}
	}

	if len(res.DerivedFacts) == 0 {
		res.Steps = append(res.Steps, "no rule fired")
	} else if !res.LimitReached {
		res.Steps = append(res.Steps, fmt.Sprintf("fixpoint reached after %d iterations", res.Iterations))
	}

	res.Success = len(res.DerivedFacts) > 0
	res.AllFacts = working
	res.ExecutionTime = time.Since(began)
	e.log.Debug("forward chaining finished",
		zap.Int("derived", len(res.DerivedFacts)),
		zap.Int("iterations", res.Iterations),
		zap.Duration("elapsed", res.ExecutionTime))
	return res
}

// wouldFire reports whether another pass would derive a new fact.
func (e *Engine) wouldFire(rules []store.Rule, applied map[string]bool, working []store.Fact) bool {
	for _, r := range rules {
		if applied[r.ID] {
			continue
		}
		if _, ok := e.matcher.SatisfiedAll(r.Terms, working); !ok {
			continue
		}
		name, value, err := match.ParseConclusion(r.Conclusion)
		if err != nil {
			continue
		}
		if known, ok := e.matcher.LookupFact(name, working); ok && known.Value.Equal(value) {
			continue
		}
		return true
	}
	return false
}

// Backward tries to prove goal against facts, or the store's facts when
// facts is nil. Facts concluded along the way are kept in a working copy
// only.
func (e *Engine) Backward(goal string, facts []store.Fact) inference.BackwardResult {
	res := e.backward(goal, facts)
	e.record(inference.HistoryEntry{Method: inference.MethodBackward, Input: res.Goal, Backward: &res})
	return res
}

func (e *Engine) backward(goal string, facts []store.Fact) inference.BackwardResult {
	began := time.Now()

	p := &prover{
		matcher: e.matcher,
		rules:   e.store.GetActiveRules(),
		visited: make(map[string]bool),
		now:     e.now,
	}
	if facts == nil {
		p.facts = e.store.GetAllFacts()
	} else {
		p.facts = append([]store.Fact(nil), facts...)
	}

	target := normalize.Text(goal)
	p.step(0, fmt.Sprintf("backward chaining started for goal %q", target))
	ok := p.prove(target, 0)
	if ok {
		p.step(0, "goal proven")
	} else {
		p.step(0, "goal could not be proven")
	}

	res := inference.BackwardResult{
		Success:       ok,
		Goal:          target,
		Proof:         p.proof,
		UsedRules:     p.used,
		Steps:         p.steps,
		CycleDetected: p.cycle,
		ExecutionTime: time.Since(began),
	}
	if res.Proof == nil {
		res.Proof = []string{}
	}
	if res.UsedRules == nil {
		res.UsedRules = []store.Rule{}
	}
	e.log.Debug("backward chaining finished",
		zap.String("goal", target),
		zap.Bool("success", ok),
		zap.Bool("cycle", p.cycle),
		zap.Duration("elapsed", res.ExecutionTime))
	return res
}

// Query answers a question. Forward chaining runs on a copy of the store's
// facts; when the question names a resulting fact that holds it answers,
// otherwise backward chaining decides.
func (e *Engine) Query(question string) inference.QueryResult {
	q := strings.TrimRight(normalize.Text(question), "?!. ")
	out := inference.QueryResult{Question: q}

	fwd := e.forward(e.store.GetAllFacts(), false)
	e.record(inference.HistoryEntry{Method: inference.MethodForward, Input: q, Forward: &fwd})
	if _, _, holds := e.matcher.KnownGoal(match.ParseGoal(q), fwd.AllFacts); holds {
		out.Method = inference.MethodForward
		out.Answer = true
		out.Forward = &fwd
		return out
	}

	bwd := e.Backward(q, nil)
	out.Method = inference.MethodBackward
	out.Answer = bwd.Success
	out.Backward = &bwd
	return out
}

// History returns the recorded runs, oldest first.
func (e *Engine) History() []inference.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]inference.HistoryEntry(nil), e.history...)
}

// LastResult returns the most recent run.
func (e *Engine) LastResult() (inference.HistoryEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return inference.HistoryEntry{}, false
	}
	return e.history[len(e.history)-1], true
}

// ClearHistory forgets all recorded runs.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

func (e *Engine) record(h inference.HistoryEntry) {
	h.Timestamp = e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, h)
	if over := len(e.history) - e.historyLimit; over > 0 {
		e.history = append([]inference.HistoryEntry(nil), e.history[over:]...)
	}
}

// derivedConfidence scales the rule confidence by its weakest support.
func derivedConfidence(r store.Rule, support []store.Fact) float64 {
	c := r.Confidence
	weakest := 1.0
	for _, f := range support {
		weakest = min(weakest, f.Confidence)
	}
	return clamp01(c * weakest)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// upsertFact replaces the fact with the same normalized name, keeping its
// id and position, or appends f.
func upsertFact(facts []store.Fact, f store.Fact) []store.Fact {
	key := normalize.Text(f.Name)
	for i := range facts {
		if normalize.Text(facts[i].Name) == key {
			if f.ID == "" {
				f.ID = facts[i].ID
			}
			facts[i] = f
			return facts
		}
	}
	return append(facts, f)
}
