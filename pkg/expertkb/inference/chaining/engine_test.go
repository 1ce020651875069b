package chaining

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/expertkb/pkg/expertkb/inference"
	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
	"github.com/cognicore/expertkb/pkg/expertkb/store/memstore"
)

func mustRule(t *testing.T, s store.Store, condition, conclusion string, opts ...store.RuleOptions) string {
	t.Helper()
	var o store.RuleOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	id, err := s.AddRule(condition, conclusion, o)
	require.NoError(t, err)
	return id
}

func mustFact(t *testing.T, s store.Store, name string, v store.Value) string {
	t.Helper()
	id, err := s.AddFact(name, v, store.FactOptions{})
	require.NoError(t, err)
	return id
}

func ruleIDs(rules []store.Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func hasStep(steps []string, substr string) bool {
	for _, s := range steps {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestForwardDerivesAdult(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "idade >= 18", "maior_de_idade")
	mustFact(t, s, "idade", store.Number(25))

	res := New(s, Options{}).Forward(nil)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"maior_de_idade"}, res.DerivedFacts)
	assert.Len(t, res.AppliedRules, 1)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.LimitReached)
	assert.Len(t, res.AllFacts, 2)

	f, ok := s.GetFactByName("maior_de_idade")
	require.True(t, ok)
	assert.True(t, f.Value.Truthy())
}

func TestForwardIsIdempotent(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "idade >= 18", "maior_de_idade")
	mustRule(t, s, "maior_de_idade e possui cnh", "pode dirigir")
	mustFact(t, s, "idade", store.Number(30))
	mustFact(t, s, "possui cnh", store.Bool(true))

	e := New(s, Options{})
	first := e.Forward(nil)
	require.Equal(t, []string{"maior_de_idade", "pode dirigir"}, first.DerivedFacts)

	second := e.Forward(nil)
	assert.False(t, second.Success)
	assert.Empty(t, second.DerivedFacts)
	assert.Empty(t, second.AppliedRules)
	assert.Len(t, s.GetAllFacts(), 4)
}

func TestForwardFiresEachRuleOnce(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "a", "b")
	mustRule(t, s, "b", "contador = 1")
	mustRule(t, s, "b", "contador = 2")
	mustFact(t, s, "a", store.Bool(true))

	res := New(s, Options{}).Forward(nil)
	assert.Equal(t, []string{"b", "contador", "contador"}, res.DerivedFacts)

	f, _ := s.GetFactByName("contador")
	assert.True(t, f.Value.Equal(store.Number(2)))
}

func TestForwardWithStartFactsLeavesStoreUntouched(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "idade >= 18", "adulto")

	res := New(s, Options{}).Forward([]store.Fact{
		{Name: "idade", Value: store.Number(40), Confidence: 1},
	})

	assert.Equal(t, []string{"adulto"}, res.DerivedFacts)
	assert.Len(t, res.AllFacts, 2)
	assert.Empty(t, s.GetAllFacts())
}

func TestForwardSkipsInactiveRules(t *testing.T) {
	s := memstore.New()
	id := mustRule(t, s, "a", "b")
	mustFact(t, s, "a", store.Bool(true))
	s.SetRuleActive(id, false)

	res := New(s, Options{}).Forward(nil)
	assert.False(t, res.Success)
	assert.True(t, hasStep(res.Steps, "no rule fired"))
}

func TestForwardReportsIterationLimit(t *testing.T) {
	s := memstore.New()
	// Reverse order so that each pass fires a single rule.
	mustRule(t, s, "d", "e")
	mustRule(t, s, "c", "d")
	mustRule(t, s, "b", "c")
	mustRule(t, s, "a", "b")
	mustFact(t, s, "a", store.Bool(true))

	res := New(s, Options{MaxIterations: 2}).Forward(nil)

	assert.True(t, res.LimitReached)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"b", "c"}, res.DerivedFacts)
	assert.True(t, hasStep(res.Steps, "iteration limit of 2 reached"))
}

func TestForwardFixpointOnLastAllowedIteration(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "b", "c")
	mustRule(t, s, "a", "b")
	mustFact(t, s, "a", store.Bool(true))

	res := New(s, Options{MaxIterations: 2}).Forward(nil)

	assert.False(t, res.LimitReached)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"b", "c"}, res.DerivedFacts)
	assert.True(t, hasStep(res.Steps, "fixpoint reached after 2 iterations"))
	assert.False(t, hasStep(res.Steps, "iteration limit"))
}

func TestForwardDerivedConfidence(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "nublado e umido", "chuva", store.RuleOptions{Confidence: store.Ptr(0.8)})
	s.AddFact("nublado", store.Bool(true), store.FactOptions{Confidence: store.Ptr(0.5)})
	s.AddFact("umido", store.Bool(true), store.FactOptions{Confidence: store.Ptr(0.9)})

	New(s, Options{}).Forward(nil)

	f, ok := s.GetFactByName("chuva")
	require.True(t, ok)
	assert.InDelta(t, 0.4, f.Confidence, 1e-9)
}

func TestBackwardSubstringMatch(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "penas", "ave")
	mustFact(t, s, "Tweety tem penas", store.Bool(true))

	res := New(s, Options{}).Backward("Tweety é ave", nil)

	assert.True(t, res.Success)
	assert.Equal(t, "tweety e ave", res.Goal)
	assert.Equal(t, []string{"rule_1"}, ruleIDs(res.UsedRules))
	require.Len(t, res.Proof, 2)
	assert.Contains(t, res.Proof[0], "tweety tem penas")
	assert.Len(t, s.GetAllFacts(), 1, "backward chaining never writes to the store")
}

func TestBackwardStrictModeNeedsExactNames(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "penas", "ave")
	mustFact(t, s, "Tweety tem penas", store.Bool(true))

	e := New(s, Options{Matcher: match.New(match.Strict)})
	assert.False(t, e.Backward("Tweety é ave", nil).Success)

	mustFact(t, s, "penas", store.Bool(true))
	assert.True(t, e.Backward("ave", nil).Success)
}

func TestBackwardCycleTerminates(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "a", "b")
	mustRule(t, s, "b", "a")

	res := New(s, Options{}).Backward("a", nil)

	assert.False(t, res.Success)
	assert.True(t, res.CycleDetected)
	assert.True(t, hasStep(res.Steps, "cycle detected"))
	assert.Empty(t, res.UsedRules)
}

func TestBackwardRevisitsGoalOnAnotherBranch(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "base e meio", "topo")
	mustRule(t, s, "base", "meio")
	mustFact(t, s, "base", store.Bool(true))

	res := New(s, Options{}).Backward("topo", nil)
	assert.True(t, res.Success)
	assert.False(t, res.CycleDetected)
	assert.Equal(t, []string{"rule_2", "rule_1"}, ruleIDs(res.UsedRules))
}

func TestBackwardIsSound(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "x e y", "z")
	mustFact(t, s, "x", store.Bool(true))

	e := New(s, Options{})
	assert.False(t, e.Backward("z", nil).Success)

	mustFact(t, s, "y", store.Bool(true))
	assert.True(t, e.Backward("z", nil).Success)
}

func TestBackwardFalsyFactStops(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "chove", "chao molhado")
	mustRule(t, s, "regador ligado", "chove")
	mustFact(t, s, "chove", store.Bool(false))
	mustFact(t, s, "regador ligado", store.Bool(true))

	res := New(s, Options{}).Backward("chao molhado", nil)
	assert.False(t, res.Success)
}

func TestBackwardProvesComparisonSubgoal(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "pontos > 100", "categoria = premium")
	mustRule(t, s, "compras >= 10", "pontos = 150")
	mustFact(t, s, "compras", store.Number(12))

	res := New(s, Options{}).Backward("categoria", nil)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"rule_2", "rule_1"}, ruleIDs(res.UsedRules))
	_, ok := s.GetFactByName("pontos")
	assert.False(t, ok)
}

func TestBackwardGoalNeedsExactFact(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "idade >= 18", "maior de idade")
	mustFact(t, s, "idade", store.Number(10))

	e := New(s, Options{})
	res := e.Backward("maior de idade", nil)
	assert.False(t, res.Success)
	assert.Empty(t, res.Proof)
	assert.Empty(t, res.UsedRules)

	mustFact(t, s, "idade", store.Number(20))
	assert.True(t, e.Backward("maior de idade", nil).Success)
}

func TestBackwardValuedGoal(t *testing.T) {
	s := memstore.New()
	mustFact(t, s, "categoria", store.String("basico"))

	e := New(s, Options{})
	assert.False(t, e.Backward("categoria = premium", nil).Success)
	assert.True(t, e.Backward("categoria = basico", nil).Success)
	assert.False(t, e.Query("categoria = premium?").Answer)

	mustRule(t, s, "compras > 10", "categoria = premium")
	mustRule(t, s, "cliente antigo", "categoria = ouro")
	mustFact(t, s, "cliente antigo", store.Bool(true))
	assert.False(t, e.Backward("categoria = premium", nil).Success, "a rule concluding another value does not prove the goal")

	mustFact(t, s, "compras", store.Number(12))
	res := e.Backward("categoria = premium", nil)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"rule_1"}, ruleIDs(res.UsedRules))
}

func TestBackwardComparisonPicksRuleWithMatchingValue(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "pontos > 100", "premium")
	mustRule(t, s, "compras >= 1", "pontos = 5")
	mustRule(t, s, "compras >= 10", "pontos = 150")
	mustFact(t, s, "compras", store.Number(12))

	res := New(s, Options{}).Backward("premium", nil)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"rule_3", "rule_1"}, ruleIDs(res.UsedRules))
}

func TestBackwardWithCallerFacts(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "penas", "ave")

	res := New(s, Options{}).Backward("ave", []store.Fact{{Name: "penas", Value: store.Bool(true), Confidence: 1}})
	assert.True(t, res.Success)
}

func TestBackwardEmptyGoal(t *testing.T) {
	s := memstore.New()
	res := New(s, Options{}).Backward("   ", nil)
	assert.False(t, res.Success)
	assert.NotNil(t, res.Proof)
}

func TestQueryPrefersForward(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "penas", "ave")
	mustFact(t, s, "tweety tem penas", store.Bool(true))

	e := New(s, Options{})
	q := e.Query("Ave?")
	assert.True(t, q.Answer)
	assert.Equal(t, inference.MethodForward, q.Method)
	require.NotNil(t, q.Forward)
	assert.Len(t, s.GetAllFacts(), 1)

	q = e.Query("Tweety é ave?")
	assert.True(t, q.Answer)
	assert.Equal(t, inference.MethodBackward, q.Method, "only an exact fact name answers through forward chaining")

	q = e.Query("voa?")
	assert.False(t, q.Answer)
	assert.Equal(t, inference.MethodBackward, q.Method)
	require.NotNil(t, q.Backward)
}

func TestHistory(t *testing.T) {
	s := memstore.New()
	mustRule(t, s, "a", "b")
	mustFact(t, s, "a", store.Bool(true))

	e := New(s, Options{HistoryLimit: 3})
	_, ok := e.LastResult()
	assert.False(t, ok)

	e.Forward(nil)
	e.Backward("b", nil)

	last, ok := e.LastResult()
	require.True(t, ok)
	assert.Equal(t, inference.MethodBackward, last.Method)
	assert.True(t, last.Success())
	assert.Equal(t, "b", last.Input)

	for i := 0; i < 4; i++ {
		e.Backward("nada", nil)
	}
	h := e.History()
	assert.Len(t, h, 3)
	assert.False(t, h[0].Success())

	e.ClearHistory()
	assert.Empty(t, e.History())
}
