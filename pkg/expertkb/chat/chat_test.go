package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/expertkb/pkg/expertkb/explain"
	"github.com/cognicore/expertkb/pkg/expertkb/inference/chaining"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
	"github.com/cognicore/expertkb/pkg/expertkb/store/memstore"
)

func newChat(t *testing.T, opts Options) (*Interface, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	return New(s, chaining.New(s, chaining.Options{}), explain.New(s, explain.Options{}), opts), s
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Intent
	}{
		{"SE idade >= 18 ENTÃO maior_de_idade", IntentAddRule},
		{"Adicione a regra: se salario > 5000 então cliente_premium", IntentAddRule},
		{"if has feathers then bird", IntentAddRule},
		{"idade = 25", IntentAddFact},
		{"Define que usuario_logado = verdadeiro", IntentAddFact},
		{"fato: salario = 6000", IntentAddFact},
		{"É verdade que Tweety é ave?", IntentQuery},
		{"verifique se cliente é premium", IntentQuery},
		{"Tweety voa?", IntentQuery},
		{"Por que usuário é maior de idade?", IntentWhy},
		{"why is tweety a bird", IntentWhy},
		{"Como obter desconto?", IntentHow},
		{"how to get a discount", IntentHow},
		{"executar inferência", IntentForward},
		{"listar regras", IntentListRules},
		{"show facts", IntentListFacts},
		{"ajuda", IntentHelp},
		{"o que posso fazer", IntentHelp},
		{"bom dia", IntentUnknown},
		{"   ", IntentUnknown},
		{"idade >= 18", IntentUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in))
		})
	}
}

func TestExtractTarget(t *testing.T) {
	assert.Equal(t, "tweety e ave", extractTarget(IntentQuery, "É verdade que Tweety é ave?"))
	assert.Equal(t, "tweety uma ave", extractTarget(IntentQuery, "É Tweety uma ave?"))
	assert.Equal(t, "cliente", extractTarget(IntentQuery, "cliente é verdadeiro"))
	assert.Equal(t, "usuario e maior de idade", extractTarget(IntentWhy, "Por que usuário é maior de idade?"))
	assert.Equal(t, "desconto", extractTarget(IntentHow, "Como obter desconto?"))
	assert.Equal(t, "discount", extractTarget(IntentHow, "how to get discount"))
}

func TestExtractRuleAndFact(t *testing.T) {
	cond, concl, ok := extractRule("Adicione a regra: SE idade >= 18 e possui cnh ENTÃO pode dirigir.")
	require.True(t, ok)
	assert.Equal(t, "idade >= 18 e possui cnh", cond)
	assert.Equal(t, "pode dirigir", concl)

	_, _, ok = extractRule("nada aqui")
	assert.False(t, ok)

	name, value, ok := extractFact(`Define que o nome = "João"`)
	require.True(t, ok)
	assert.Equal(t, "nome", name)
	assert.Equal(t, `"João"`, value)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "SE idade >= 18 ENTÃO adulto", Sanitize("<p>SE idade &gt;= 18 ENTÃO <b>adulto</b></p>"))
	assert.Equal(t, "oi", Sanitize("<script>alert(1)</script>oi"))
	assert.Equal(t, "idade < 18", Sanitize("idade  <  18"))
	assert.Equal(t, "a && b", Sanitize("a && b"))
	assert.Equal(t, "linha um linha dois", Sanitize("linha um<br>linha dois"))
}

func TestProcessAddsRuleAndFact(t *testing.T) {
	c, s := newChat(t, Options{})

	reply := c.Process("SE idade >= 18 ENTÃO maior_de_idade")
	assert.Equal(t, RoleSystem, reply.Role)
	assert.Equal(t, IntentAddRule, reply.Intent)
	assert.Empty(t, reply.Error)
	assert.Contains(t, reply.Content, "rule_1")
	require.Len(t, s.GetAllRules(), 1)

	reply = c.Process("define que usuario_logado = verdadeiro")
	assert.Empty(t, reply.Error)
	f, ok := s.GetFactByName("usuario_logado")
	require.True(t, ok)
	assert.True(t, f.Value.Equal(store.Bool(true)))

	c.Process("idade = 25")
	f, _ = s.GetFactByName("idade")
	assert.True(t, f.Value.Equal(store.Number(25)))
}

func TestProcessRejectsMalformedRule(t *testing.T) {
	c, s := newChat(t, Options{})

	reply := c.Process("SE idade >= ENTÃO adulto")
	assert.Equal(t, IntentAddRule, reply.Intent)
	assert.NotEmpty(t, reply.Error)
	assert.Contains(t, reply.Content, "could not add rule")
	assert.Empty(t, s.GetAllRules())

	reply = c.Process("lista = [1, 2")
	assert.NotEmpty(t, reply.Error)
	assert.Empty(t, s.GetAllFacts())
}

func TestProcessQueryAndExplanations(t *testing.T) {
	c, s := newChat(t, Options{})
	c.Process("SE penas ENTÃO ave")
	c.Process("tweety tem penas = verdadeiro")

	reply := c.Process("É verdade que Tweety é ave?")
	assert.Equal(t, IntentQuery, reply.Intent)
	assert.Contains(t, reply.Content, "TRUE")
	assert.Len(t, s.GetAllFacts(), 1, "questions never write to the store")

	reply = c.Process("Tweety voa?")
	assert.Contains(t, reply.Content, "FALSE")

	reply = c.Process("Por que ave?")
	assert.Equal(t, IntentWhy, reply.Intent)
	assert.Contains(t, reply.Content, `why "ave"?`)

	reply = c.Process("Como obter desconto?")
	assert.Equal(t, IntentHow, reply.Intent)
	assert.Contains(t, reply.Content, `how to reach "desconto"?`)
	assert.Contains(t, reply.Content, "impossible")
}

func TestProcessForwardAndListings(t *testing.T) {
	c, s := newChat(t, Options{})
	c.Process("SE idade >= 18 ENTÃO maior_de_idade")
	c.Process("idade = 30")

	reply := c.Process("executar inferência")
	assert.Contains(t, reply.Content, "derived 1 fact(s): maior_de_idade")
	_, ok := s.GetFactByName("maior_de_idade")
	assert.True(t, ok)

	assert.Contains(t, c.Process("listar regras").Content, "rule_1")
	assert.Contains(t, c.Process("listar fatos").Content, "maior_de_idade")
	assert.Contains(t, c.Process("ajuda").Content, "active rules: 1")
	assert.Contains(t, c.Process("bom dia").Content, "did not understand")
}

func TestHistory(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c, _ := newChat(t, Options{Clock: func() time.Time { return ts }})

	c.Process("ajuda")
	h := c.History()
	require.Len(t, h, 2)
	assert.Equal(t, RoleUser, h[0].Role)
	assert.Equal(t, "ajuda", h[0].Content)
	assert.Equal(t, RoleSystem, h[1].Role)
	assert.NotEqual(t, h[0].ID, h[1].ID)
	assert.Less(t, h[0].ID, h[1].ID, "ids are monotonic")
	assert.Equal(t, ts, h[0].Timestamp)

	c.ClearHistory()
	assert.Empty(t, c.History())

	c.SetHistory(h[:1])
	assert.Len(t, c.History(), 1)
}

func TestHistoryLimit(t *testing.T) {
	c, _ := newChat(t, Options{HistoryLimit: 3})
	c.Process("ajuda")
	c.Process("bom dia")

	h := c.History()
	require.Len(t, h, 3)
	assert.Equal(t, "bom dia", h[1].Content)
}
