package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"idade", "idade"},
		{"  Maior   de IDADE  ", "maior de idade"},
		{"Tweety é ave", "tweety e ave"},
		{"Ação\tCONCLUÍDA\n", "acao concluida"},
		{"pão de açúcar", "pao de acucar"},
		{"maior_de_idade", "maior_de_idade"},
		{"idade >= 18", "idade >= 18"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Text(tt.in), "Text(%q)", tt.in)
	}
}

func TestTextIdempotent(t *testing.T) {
	for _, s := range []string{"Olá  Mundo", "São Paulo", "x"} {
		once := Text(s)
		assert.Equal(t, once, Text(once))
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Não", "nao"))
	assert.True(t, Equal(" a  b ", "A B"))
	assert.False(t, Equal("ave", "aves"))
}
