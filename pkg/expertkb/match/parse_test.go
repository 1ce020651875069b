package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

func TestParseCondition(t *testing.T) {
	terms, err := ParseCondition("Idade >= 18 E possui CNH and nome = \"Ana Maria\" && cor in [azul, verde]")
	require.NoError(t, err)
	require.Len(t, terms, 4)

	assert.Equal(t, "idade", terms[0].Fact)
	assert.Equal(t, store.OpGreaterThanInclusive, terms[0].Operator)
	assert.True(t, terms[0].Value.Equal(store.Number(18)))

	assert.True(t, terms[1].IsText())
	assert.Equal(t, "possui cnh", terms[1].Fact)

	assert.Equal(t, store.OpEqual, terms[2].Operator)
	assert.Equal(t, store.KindString, terms[2].Value.Kind())
	assert.Equal(t, "ana maria", terms[2].Value.String())

	assert.Equal(t, store.OpIn, terms[3].Operator)
	assert.Equal(t, `["azul","verde"]`, terms[3].Value.String())
}

func TestParseConditionKeepsQuotedConjunctions(t *testing.T) {
	terms, err := ParseCondition(`nome = "Joao e Maria" e ativo & tag = 'a && b'`)
	require.NoError(t, err)
	require.Len(t, terms, 3)

	assert.Equal(t, "nome", terms[0].Fact)
	assert.Equal(t, store.KindString, terms[0].Value.Kind())
	assert.Equal(t, "joao e maria", terms[0].Value.String())

	assert.True(t, terms[1].IsText())
	assert.Equal(t, "ativo", terms[1].Fact)

	assert.Equal(t, "tag", terms[2].Fact)
	assert.Equal(t, "a && b", terms[2].Value.String())
}

func TestParseConditionKeepsAccentedIs(t *testing.T) {
	terms, err := ParseCondition("Tweety é ave")
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "tweety e ave", terms[0].Fact)
}

func TestParseConditionOperators(t *testing.T) {
	tests := map[string]store.Operator{
		"a > 1":                   store.OpGreaterThan,
		"a < 1":                   store.OpLessThan,
		"a <= 1":                  store.OpLessThanInclusive,
		"a != x":                  store.OpNotEqual,
		"a == x":                  store.OpEqual,
		"a not in [1, 2]":         store.OpNotIn,
		"a em [x]":                store.OpIn,
		"a contains x":            store.OpContains,
		"a does not contain x":    store.OpDoesNotContain,
		"cor nao em [azul, rosa]": store.OpNotIn,
	}
	for text, want := range tests {
		terms, err := ParseCondition(text)
		require.NoError(t, err, text)
		require.Len(t, terms, 1, text)
		assert.Equal(t, want, terms[0].Operator, text)
	}
}

func TestParseConditionMalformed(t *testing.T) {
	for _, text := range []string{"", "   ", "idade >=", ">= 18", "a & & b", "x = {bad json", `nome = "joao e maria`, `nome = joao" e ativo`} {
		_, err := ParseCondition(text)
		require.Error(t, err, "%q", text)
		assert.True(t, errors.Is(err, internalerr.ErrInvalidInput), "%q: %v", text, err)
	}
}

func TestParseConclusion(t *testing.T) {
	name, v, err := ParseConclusion("Maior_de_Idade")
	require.NoError(t, err)
	assert.Equal(t, "maior_de_idade", name)
	assert.True(t, v.Equal(store.Bool(true)))

	name, v, err = ParseConclusion("categoria = premium")
	require.NoError(t, err)
	assert.Equal(t, "categoria", name)
	assert.Equal(t, "premium", v.String())

	name, v, err = ParseConclusion("desconto = 10")
	require.NoError(t, err)
	assert.Equal(t, "desconto", name)
	assert.True(t, v.Equal(store.Number(10)))

	_, _, err = ParseConclusion("x > 3")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	_, _, err = ParseConclusion("  ")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestValidateTerms(t *testing.T) {
	assert.NoError(t, ValidateTerms([]store.Term{{Fact: "a"}, {Fact: "b", Operator: store.OpIn, Value: store.String("abc")}}))
	assert.Error(t, ValidateTerms(nil))
	assert.Error(t, ValidateTerms([]store.Term{{Fact: " "}}))
	assert.Error(t, ValidateTerms([]store.Term{{Fact: "a", Operator: "between"}}))
}

func TestFormatTerms(t *testing.T) {
	terms, err := ParseCondition("idade >= 18 e possui cnh")
	require.NoError(t, err)
	assert.Equal(t, "idade >= 18 e possui cnh", FormatTerms(terms))
}
