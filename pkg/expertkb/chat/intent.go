package chat

import (
	"regexp"
	"strings"

	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
)

// Intent is what a chat message asks for
type Intent string

const (
	IntentAddRule   Intent = "rule_add"
	IntentAddFact   Intent = "fact_add"
	IntentQuery     Intent = "query"
	IntentWhy       Intent = "why"
	IntentHow       Intent = "how"
	IntentForward   Intent = "forward"
	IntentListRules Intent = "list_rules"
	IntentListFacts Intent = "list_facts"
	IntentHelp      Intent = "help"
	IntentUnknown   Intent = "unknown"
)

// Patterns run against normalized text (lower case, no diacritics) except
// rulePattern and factPattern, which extract from the original text.
var (
	listRulesPattern = regexp.MustCompile(`^(?:listar|liste|lista|mostrar|mostre|list|show)\s+(?:as\s+|all\s+)?(?:regras|rules)\b`)
	listFactsPattern = regexp.MustCompile(`^(?:listar|liste|lista|mostrar|mostre|list|show)\s+(?:os\s+|all\s+)?(?:fatos|facts)\b`)
	addRulePattern   = regexp.MustCompile(`(?:^|[\s:])(?:se\s+.+\s+entao|if\s+.+\s+then)\s+\S`)
	whyPattern       = regexp.MustCompile(`^(?:explique\s+)?(?:por\s*que|porque|why)\s+(?:is\s+|does\s+|do\s+)?(.+)$`)
	howPattern       = regexp.MustCompile(`^(?:como\s+(?:obter|conseguir|alcancar|chegar\s+a|provar)?|de\s+que\s+(?:forma|maneira)|how\s+(?:to\s+|can\s+i\s+)?(?:get\s+|reach\s+|prove\s+)?)\s*(.+)$`)
	forwardPattern   = regexp.MustCompile(`^(?:executar|execute|rodar|rode|run)\s+(?:a\s+)?(?:inferencia|encadeamento(?:\s+para\s+frente)?|forward(?:\s+chaining)?|inference)$|^(?:inferir|infer)$`)
	queryPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`^(?:e\s+verdade\s+que|verifique\s+se|verificar\s+se|is\s+it\s+true\s+that|check\s+(?:if|whether)|consulta:|query:)\s*(.+)$`),
		regexp.MustCompile(`^(.+?)\s+e\s+(?:verdadeiro|falso)$`),
		regexp.MustCompile(`^(?:e|is|does)\s+(.+)$`),
	}
	factIntentPattern = regexp.MustCompile(`^(?:(?:defina|define|defino|estabeleca)\s+que\s+|(?:fato|fact):\s*|(?:adicione|adicionar|add)\s+(?:o\s+|um\s+|a\s+)?(?:fato|fact)\s*:?\s*)?[^<>!=]+?\s*=\s*\S`)
	helpPattern       = regexp.MustCompile(`^(?:ajuda|help|comandos|commands|\?)$|o\s+que\s+posso`)

	rulePattern = regexp.MustCompile(`(?is)(?:^|[\s:])(?:se\s+(.+?)\s+ent[aã]o|if\s+(.+?)\s+then)\s+(.+)$`)
	factPattern = regexp.MustCompile(`(?is)^(?:(?:defina|define|defino|estabele[çc]a)\s+que\s+|(?:fato|fact):\s*|(?:adicione|adicionar|add)\s+(?:o\s+|um\s+|a\s+)?(?:fato|fact)\s*:?\s*)?([^<>!=]+?)\s*=\s*(.+)$`)
	articles    = regexp.MustCompile(`^(?:o|a|um|uma|que|the)\s+`)
)

// Classify returns the intent of a plain-text message.
func Classify(text string) Intent {
	s := normalize.Text(text)
	switch {
	case s == "":
		return IntentUnknown
	case listRulesPattern.MatchString(s):
		return IntentListRules
	case listFactsPattern.MatchString(s):
		return IntentListFacts
	case addRulePattern.MatchString(s):
		return IntentAddRule
	case whyPattern.MatchString(s):
		return IntentWhy
	case howPattern.MatchString(s):
		return IntentHow
	case forwardPattern.MatchString(s):
		return IntentForward
	case helpPattern.MatchString(s):
		return IntentHelp
	case queryPatterns[0].MatchString(s):
		return IntentQuery
	case factIntentPattern.MatchString(s):
		return IntentAddFact
	case strings.HasSuffix(s, "?"):
		return IntentQuery
	}
	return IntentUnknown
}

// extractRule returns the condition and conclusion of a SE...ENTÃO or
// IF...THEN sentence.
func extractRule(text string) (condition, conclusion string, ok bool) {
	m := rulePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	condition = m[1]
	if condition == "" {
		condition = m[2]
	}
	conclusion = strings.TrimRight(strings.TrimSpace(m[3]), ".!")
	return strings.TrimSpace(condition), conclusion, true
}

// extractFact returns the name and raw value text of "name = value".
func extractFact(text string) (name, value string, ok bool) {
	m := factPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	name = articles.ReplaceAllString(normalize.Text(m[1]), "")
	value = strings.TrimRight(strings.TrimSpace(m[2]), ".!")
	return name, value, name != ""
}

// extractTarget pulls the subject out of why, how and query messages.
func extractTarget(intent Intent, text string) string {
	s := normalize.Text(text)
	var target string
	switch intent {
	case IntentWhy:
		if m := whyPattern.FindStringSubmatch(s); m != nil {
			target = m[1]
		}
	case IntentHow:
		if m := howPattern.FindStringSubmatch(s); m != nil {
			target = m[1]
		}
	case IntentQuery:
		target = strings.TrimRight(s, "?")
		for _, p := range queryPatterns {
			if m := p.FindStringSubmatch(target); m != nil {
				target = m[1]
				break
			}
		}
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(target), "?!."))
}
