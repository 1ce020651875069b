package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// Knowledge is a seed file of rules and facts.
//
//	rules:
//	  - condition: idade >= 18
//	    conclusion: maior_de_idade
//	facts:
//	  - name: idade
//	    value: 25
type Knowledge struct {
	Rules []RuleSpec `yaml:"rules"`
	Facts []FactSpec `yaml:"facts"`
}

type RuleSpec struct {
	Name       string   `yaml:"name"`
	Condition  string   `yaml:"condition"`
	Conclusion string   `yaml:"conclusion"`
	Priority   int      `yaml:"priority"`
	Confidence *float64 `yaml:"confidence"`
	Tags       []string `yaml:"tags"`
	Active     *bool    `yaml:"active"`
}

type FactSpec struct {
	Name        string   `yaml:"name"`
	Value       any      `yaml:"value"`
	Confidence  *float64 `yaml:"confidence"`
	Description string   `yaml:"description"`
}

// LoadKnowledge loads a seed file from a YAML file
func LoadKnowledge(path string) (*Knowledge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKnowledge(data)
}

// ParseKnowledge decodes a seed document.
func ParseKnowledge(data []byte) (*Knowledge, error) {
	var k Knowledge
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	return &k, nil
}

// Apply adds the rules and facts to st, in file order. It stops at the first
// invalid entry; entries before it stay applied.
func (k *Knowledge) Apply(st store.Store) (rules, facts int, err error) {
	for i, r := range k.Rules {
		opts := store.RuleOptions{
			Name:       r.Name,
			Priority:   r.Priority,
			Confidence: r.Confidence,
			Tags:       r.Tags,
			Inactive:   r.Active != nil && !*r.Active,
		}
		if _, err := st.AddRule(r.Condition, r.Conclusion, opts); err != nil {
			return rules, facts, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules++
	}

	for i, f := range k.Facts {
		v, err := store.FromAny(f.Value)
		if err != nil {
			return rules, facts, fmt.Errorf("fact %d: %w", i+1, err)
		}
		if v.IsZero() {
			v = store.Bool(true)
		}
		if _, err := st.AddFact(f.Name, v, store.FactOptions{Confidence: f.Confidence, Description: f.Description}); err != nil {
			return rules, facts, fmt.Errorf("fact %d: %w", i+1, err)
		}
		facts++
	}
	return rules, facts, nil
}
