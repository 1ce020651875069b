package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store is the knowledge store: the single owner of facts and rules.
// Lookups by id or name that miss return false instead of an error.
type Store interface {
	// Rules
	AddRule(condition, conclusion string, opts RuleOptions) (string, error)
	RemoveRule(id string) bool
	UpdateRule(id string, patch RulePatch) (bool, error)
	SetRuleActive(id string, active bool) bool
	GetRuleByID(id string) (Rule, bool)
	GetAllRules() []Rule
	GetActiveRules() []Rule
	GetRulesForConclusion(goal string) []Rule
	SearchRules(query string) []Rule

	// Facts
	AddFact(name string, value Value, opts FactOptions) (string, error)
	UpdateFact(id string, value Value) bool
	RemoveFact(id string) bool
	GetAllFacts() []Fact
	GetFactByName(name string) (Fact, bool)

	// Snapshots
	Export() Snapshot
	Import(s Snapshot) error
	Clear()
}

// Archive persists opaque snapshot blobs under a name.
type Archive interface {
	Close() error

	SaveSnapshot(ctx context.Context, name string, data []byte) error
	LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error)
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
	DeleteSnapshot(ctx context.Context, name string) (bool, error)
}

// SnapshotInfo describes an archived snapshot
type SnapshotInfo struct {
	Name    string
	Size    int
	SavedAt time.Time
}

// Fact is a named value known to be true with some confidence
type Fact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Value       Value     `json:"value"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MarshalJSON adds the value's type (string, number, boolean or object) to
// the encoded fact.
func (f Fact) MarshalJSON() ([]byte, error) {
	type plain Fact
	aux := struct {
		plain
		Type string `json:"type,omitempty"`
	}{plain: plain(f)}
	if !f.Value.IsZero() {
		aux.Type = f.Value.Kind().String()
	}
	return json.Marshal(aux)
}

// UnmarshalJSON defaults an omitted confidence to 1. The type field is
// derived from the value and ignored.
func (f *Fact) UnmarshalJSON(data []byte) error {
	type plain Fact
	aux := struct {
		*plain
		Confidence *float64 `json:"confidence"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.Confidence = 1
	if aux.Confidence != nil {
		f.Confidence = *aux.Confidence
	}
	return nil
}

// Rule is an IF condition THEN conclusion statement.
// Priority is informational only; rules are evaluated in insertion order.
type Rule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Condition  string    `json:"condition"`
	Terms      []Term    `json:"terms,omitempty"`
	Conclusion string    `json:"conclusion"`
	Priority   int       `json:"priority"`
	Confidence float64   `json:"confidence"`
	Active     bool      `json:"active"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UnmarshalJSON defaults omitted priority, confidence and active flags.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := struct {
		*plain
		Priority   *int     `json:"priority"`
		Confidence *float64 `json:"confidence"`
		Active     *bool    `json:"active"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Priority, r.Confidence, r.Active = 1, 1, true
	if aux.Priority != nil {
		r.Priority = *aux.Priority
	}
	if aux.Confidence != nil {
		r.Confidence = *aux.Confidence
	}
	if aux.Active != nil {
		r.Active = *aux.Active
	}
	return nil
}

// DisplayName returns the rule name, falling back to its id.
func (r Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// String renders the rule as "SE condition ENTÃO conclusion".
func (r Rule) String() string {
	return fmt.Sprintf("SE %s ENTÃO %s", r.Condition, r.Conclusion)
}

// Operator names a comparison between a fact value and a term value
type Operator string

const (
	OpEqual                Operator = "equal"
	OpNotEqual             Operator = "notEqual"
	OpLessThan             Operator = "lessThan"
	OpLessThanInclusive    Operator = "lessThanInclusive"
	OpGreaterThan          Operator = "greaterThan"
	OpGreaterThanInclusive Operator = "greaterThanInclusive"
	OpIn                   Operator = "in"
	OpNotIn                Operator = "notIn"
	OpContains             Operator = "contains"
	OpDoesNotContain       Operator = "doesNotContain"
)

var operatorSymbols = map[Operator]string{
	OpEqual:                "=",
	OpNotEqual:             "!=",
	OpLessThan:             "<",
	OpLessThanInclusive:    "<=",
	OpGreaterThan:          ">",
	OpGreaterThanInclusive: ">=",
	OpIn:                   "in",
	OpNotIn:                "not in",
	OpContains:             "contains",
	OpDoesNotContain:       "does not contain",
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	_, ok := operatorSymbols[op]
	return ok
}

// Symbol returns the infix form used when rendering a term.
func (op Operator) Symbol() string {
	return operatorSymbols[op]
}

// Term is one atomic condition. A term without an operator is a text term:
// Fact holds a phrase matched against fact names by the matcher.
type Term struct {
	Fact     string   `json:"fact"`
	Operator Operator `json:"operator,omitempty"`
	Value    Value    `json:"value"`
}

// IsText reports whether the term is a plain phrase.
func (t Term) IsText() bool { return t.Operator == "" }

// String renders the term as condition text.
func (t Term) String() string {
	if t.IsText() {
		return t.Fact
	}
	val := t.Value.String()
	if t.Value.Kind() == KindString && strings.ContainsAny(val, " \t") {
		val = `"` + val + `"`
	}
	return fmt.Sprintf("%s %s %s", t.Fact, t.Operator.Symbol(), val)
}

// RuleOptions carries the optional attributes of a new rule
type RuleOptions struct {
	Name       string
	Priority   int      // 0 means the default of 1
	Confidence *float64 // nil means 1
	Tags       []string
	Terms      []Term // structured condition; parsed from the condition text when empty
	Inactive   bool
}

// RulePatch updates selected rule attributes; nil fields are left unchanged.
type RulePatch struct {
	Name       *string
	Condition  *string
	Terms      []Term
	Conclusion *string
	Priority   *int
	Confidence *float64
	Active     *bool
	Tags       []string
}

// FactOptions carries the optional attributes of a fact
type FactOptions struct {
	Confidence  *float64 // nil means 1
	Description string
}

// Snapshot is the plain import/export form of a store
type Snapshot struct {
	Rules []Rule `json:"rules"`
	Facts []Fact `json:"facts"`
}

// Ptr returns a pointer to v, for optional option fields.
func Ptr[T any](v T) *T {
	return &v
}
