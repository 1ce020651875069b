package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// Conjunctions are split before diacritics are stripped so that "é" (is)
// is not mistaken for "e" (and).
var conjunction = regexp.MustCompile(`\s+(?:e|and)\s+|\s*&&?\s*`)

var (
	comparisonPattern = regexp.MustCompile(`^([^<>=!]+?)\s*(>=|<=|!=|==|=|>|<)\s*(.*)$`)
	listPattern       = regexp.MustCompile(`^(.+?)\s+(not in|nao em|in|em)\s+(\[.*\])$`)
	containsPattern   = regexp.MustCompile(`^(.+?)\s+(does not contain|contains)\s+(.+)$`)
	conclusionPattern = regexp.MustCompile(`^([^<>=!]+?)\s*==?\s*(.+)$`)
)

var symbolOperators = map[string]store.Operator{
	">=": store.OpGreaterThanInclusive,
	"<=": store.OpLessThanInclusive,
	"!=": store.OpNotEqual,
	"==": store.OpEqual,
	"=":  store.OpEqual,
	">":  store.OpGreaterThan,
	"<":  store.OpLessThan,
}

var keywordOperators = map[string]store.Operator{
	"not in":           store.OpNotIn,
	"nao em":           store.OpNotIn,
	"in":               store.OpIn,
	"em":               store.OpIn,
	"does not contain": store.OpDoesNotContain,
	"contains":         store.OpContains,
}

// ParseCondition splits a condition on "e", "and", "&" or "&&" outside
// quoted values and parses each part into a term. An unbalanced quote is
// rejected.
// Example: "idade >= 18 e possui cnh" → [{idade greaterThanInclusive 18} {possui cnh}]
func ParseCondition(text string) ([]store.Term, error) {
	if normalize.Text(text) == "" {
		return nil, fmt.Errorf("%w: empty condition", internalerr.ErrInvalidInput)
	}

	parts, err := splitConjunctions(strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return nil, err
	}
	terms := make([]store.Term, 0, len(parts))
	for _, part := range parts {
		t, err := ParseTerm(part)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func splitConjunctions(text string) ([]string, error) {
	spans, err := quotedSpans(text)
	if err != nil {
		return nil, err
	}

	var parts []string
	last := 0
	for _, loc := range conjunction.FindAllStringIndex(text, -1) {
		if insideSpan(loc[0], spans) {
			continue
		}
		parts = append(parts, text[last:loc[0]])
		last = loc[1]
	}
	return append(parts, text[last:]), nil
}

// quotedSpans returns the byte offsets of each pair of matching single or
// double quotes.
func quotedSpans(text string) ([][2]int, error) {
	var spans [][2]int
	open := -1
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case open < 0 && (c == '"' || c == '\''):
			open, quote = i, c
		case open >= 0 && c == quote:
			spans = append(spans, [2]int{open, i})
			open = -1
		}
	}
	if open >= 0 {
		return nil, fmt.Errorf("%w: unbalanced quote in %q", internalerr.ErrInvalidInput, text)
	}
	return spans, nil
}

func insideSpan(pos int, spans [][2]int) bool {
	for _, s := range spans {
		if pos > s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

// ParseTerm parses one condition part. Parts with no operator become text
// terms; a stray comparison symbol without operands is rejected.
func ParseTerm(text string) (store.Term, error) {
	s := normalize.Text(text)
	if s == "" {
		return store.Term{}, fmt.Errorf("%w: empty condition term", internalerr.ErrInvalidInput)
	}

	if m := listPattern.FindStringSubmatch(s); m != nil {
		list, err := parseList(m[3])
		if err != nil {
			return store.Term{}, err
		}
		return store.Term{Fact: strings.TrimSpace(m[1]), Operator: keywordOperators[m[2]], Value: list}, nil
	}

	if m := containsPattern.FindStringSubmatch(s); m != nil {
		v, err := store.ParseValue(m[3])
		if err != nil {
			return store.Term{}, err
		}
		return store.Term{Fact: strings.TrimSpace(m[1]), Operator: keywordOperators[m[2]], Value: v}, nil
	}

	if m := comparisonPattern.FindStringSubmatch(s); m != nil {
		operand := strings.TrimSpace(m[3])
		if operand == "" {
			return store.Term{}, fmt.Errorf("%w: missing operand in %q", internalerr.ErrInvalidInput, s)
		}
		v, err := store.ParseValue(operand)
		if err != nil {
			return store.Term{}, err
		}
		return store.Term{Fact: strings.TrimSpace(m[1]), Operator: symbolOperators[m[2]], Value: v}, nil
	}

	if strings.ContainsAny(s, "<>=!") {
		return store.Term{}, fmt.Errorf("%w: unparsable condition %q", internalerr.ErrInvalidInput, s)
	}
	return store.Term{Fact: s}, nil
}

// ParseConclusion returns the target fact name and value of a conclusion.
// "categoria = premium" sets categoria to "premium"; any other phrase sets
// a fact of that name to true.
func ParseConclusion(text string) (string, store.Value, error) {
	s := normalize.Text(text)
	if s == "" {
		return "", store.Value{}, fmt.Errorf("%w: empty conclusion", internalerr.ErrInvalidInput)
	}

	if m := conclusionPattern.FindStringSubmatch(s); m != nil {
		v, err := store.ParseValue(m[2])
		if err != nil {
			return "", store.Value{}, err
		}
		return strings.TrimSpace(m[1]), v, nil
	}

	if strings.ContainsAny(s, "<>=!") {
		return "", store.Value{}, fmt.Errorf("%w: conclusion must be a phrase or name = value, got %q", internalerr.ErrInvalidInput, s)
	}
	return s, store.Bool(true), nil
}

// ValidateTerms checks structured terms supplied directly by a caller.
func ValidateTerms(terms []store.Term) error {
	if len(terms) == 0 {
		return fmt.Errorf("%w: condition has no terms", internalerr.ErrInvalidInput)
	}
	for i, t := range terms {
		if normalize.Text(t.Fact) == "" {
			return fmt.Errorf("%w: term %d has no fact", internalerr.ErrInvalidInput, i)
		}
		if !t.IsText() && !t.Operator.Valid() {
			return fmt.Errorf("%w: term %d has unknown operator %q", internalerr.ErrInvalidInput, i, t.Operator)
		}
	}
	return nil
}

// FormatTerms renders terms back into condition text.
func FormatTerms(terms []store.Term) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " e ")
}

// parseList accepts a JSON array or a bracketed comma list of bare words.
func parseList(text string) (store.Value, error) {
	if json.Valid([]byte(text)) {
		return store.JSON([]byte(text))
	}

	inner := strings.TrimSpace(text[1 : len(text)-1])
	var items []store.Value
	if inner != "" {
		for _, part := range strings.Split(inner, ",") {
			v, err := store.ParseValue(part)
			if err != nil {
				return store.Value{}, err
			}
			items = append(items, v)
		}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return store.Value{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	if items == nil {
		data = []byte("[]")
	}
	return store.JSON(data)
}
