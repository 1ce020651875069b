package memstore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

const (
	rulePrefix = "rule_"
	factPrefix = "fact_"
)

// Store is the in-memory knowledge store. A single lock guards every
// exported method so the id maps, the name index and the insertion order
// always change together.
type Store struct {
	mu      sync.RWMutex
	matcher *match.Matcher
	log     *zap.Logger
	now     func() time.Time

	rules     map[string]store.Rule
	ruleOrder []string
	facts     map[string]store.Fact
	factOrder []string
	nameIndex map[string]string // normalized name → fact id

	ruleCounter int
	factCounter int
}

// Option configures a Store
type Option func(*Store)

// WithMatcher sets the matcher used by GetRulesForConclusion.
func WithMatcher(m *match.Matcher) Option {
	return func(s *Store) {
		if m != nil {
			s.matcher = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now for created timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store. The default matcher is permissive.
func New(opts ...Option) *Store {
	s := &Store{
		matcher: match.New(match.Permissive),
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) reset() {
	s.rules = make(map[string]store.Rule)
	s.ruleOrder = nil
	s.facts = make(map[string]store.Fact)
	s.factOrder = nil
	s.nameIndex = make(map[string]string)
	s.ruleCounter = 0
	s.factCounter = 0
}

// === Rules ===

// AddRule parses and stores a new active rule and returns its id.
// A malformed condition or conclusion leaves the store unchanged.
func (s *Store) AddRule(condition, conclusion string, opts store.RuleOptions) (string, error) {
	rule, err := buildRule(condition, conclusion, opts)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ruleCounter++
	rule.ID = rulePrefix + strconv.Itoa(s.ruleCounter)
	if rule.Name == "" {
		rule.Name = fmt.Sprintf("Rule %d", s.ruleCounter)
	}
	rule.CreatedAt = s.now()

	s.rules[rule.ID] = rule
	s.ruleOrder = append(s.ruleOrder, rule.ID)
	s.log.Debug("rule added", zap.String("id", rule.ID), zap.String("rule", rule.String()))
	return rule.ID, nil
}

// RemoveRule deletes a rule. It returns false when the id is unknown.
func (s *Store) RemoveRule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	s.ruleOrder = removeID(s.ruleOrder, id)
	return true
}

// UpdateRule applies a patch. It returns false, nil when the id is unknown
// and false with an error when the patch is malformed; in both cases the
// rule is unchanged.
func (s *Store) UpdateRule(id string, patch store.RulePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rules[id]
	if !ok {
		return false, nil
	}

	updated, err := applyPatch(copyRule(current), patch)
	if err != nil {
		return false, err
	}
	s.rules[id] = updated
	return true, nil
}

// SetRuleActive toggles a rule in or out of matching and chaining.
func (s *Store) SetRuleActive(id string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return false
	}
	r.Active = active
	s.rules[id] = r
	return true
}

// GetRuleByID returns a rule by id.
func (s *Store) GetRuleByID(id string) (store.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return store.Rule{}, false
	}
	return copyRule(r), true
}

// GetAllRules returns every rule in insertion order.
func (s *Store) GetAllRules() []store.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectRules(func(store.Rule) bool { return true })
}

// GetActiveRules returns the active rules in insertion order.
func (s *Store) GetActiveRules() []store.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectRules(func(r store.Rule) bool { return r.Active })
}

// GetRulesForConclusion returns the active rules whose conclusion matches goal.
func (s *Store) GetRulesForConclusion(goal string) []store.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectRules(func(r store.Rule) bool {
		return r.Active && s.matcher.ConcludesGoal(r, goal)
	})
}

// SearchRules returns rules whose condition, conclusion, name or tags
// contain the query.
func (s *Store) SearchRules(query string) []store.Rule {
	q := normalize.Text(query)
	if q == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectRules(func(r store.Rule) bool {
		if strings.Contains(r.Condition, q) || strings.Contains(r.Conclusion, q) ||
			strings.Contains(normalize.Text(r.Name), q) {
			return true
		}
		for _, tag := range r.Tags {
			if strings.Contains(normalize.Text(tag), q) {
				return true
			}
		}
		return false
	})
}

func (s *Store) collectRules(keep func(store.Rule) bool) []store.Rule {
	out := make([]store.Rule, 0, len(s.ruleOrder))
	for _, id := range s.ruleOrder {
		r := s.rules[id]
		if keep(r) {
			out = append(out, copyRule(r))
		}
	}
	return out
}

// === Facts ===

// AddFact inserts a fact or, when a fact with the same normalized name
// exists, overwrites its value and confidence and returns the existing id.
func (s *Store) AddFact(name string, value store.Value, opts store.FactOptions) (string, error) {
	key := normalize.Text(name)
	if key == "" {
		return "", fmt.Errorf("%w: fact name is empty", internalerr.ErrInvalidInput)
	}
	confidence, err := confidenceOrDefault(opts.Confidence)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.nameIndex[key]; ok {
		f := s.facts[id]
		f.Value = value
		f.Confidence = confidence
		if opts.Description != "" {
			f.Description = opts.Description
		}
		s.facts[id] = f
		return id, nil
	}

	s.factCounter++
	f := store.Fact{
		ID:          factPrefix + strconv.Itoa(s.factCounter),
		Name:        key,
		Value:       value,
		Confidence:  confidence,
		Description: opts.Description,
		CreatedAt:   s.now(),
	}
	s.facts[f.ID] = f
	s.factOrder = append(s.factOrder, f.ID)
	s.nameIndex[key] = f.ID
	return f.ID, nil
}

// UpdateFact replaces the value of a fact by id.
func (s *Store) UpdateFact(id string, value store.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return false
	}
	f.Value = value
	s.facts[id] = f
	return true
}

// RemoveFact deletes a fact by id.
func (s *Store) RemoveFact(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return false
	}
	delete(s.facts, id)
	delete(s.nameIndex, f.Name)
	s.factOrder = removeID(s.factOrder, id)
	return true
}

// GetAllFacts returns every fact in insertion order.
func (s *Store) GetAllFacts() []store.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Fact, 0, len(s.factOrder))
	for _, id := range s.factOrder {
		out = append(out, s.facts[id])
	}
	return out
}

// GetFactByName looks a fact up by normalized name.
func (s *Store) GetFactByName(name string) (store.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.nameIndex[normalize.Text(name)]
	if !ok {
		return store.Fact{}, false
	}
	return s.facts[id], true
}

// === Snapshots ===

// Export returns a copy of all rules and facts.
func (s *Store) Export() store.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := store.Snapshot{
		Rules: s.collectRules(func(store.Rule) bool { return true }),
		Facts: make([]store.Fact, 0, len(s.factOrder)),
	}
	for _, id := range s.factOrder {
		snap.Facts = append(snap.Facts, s.facts[id])
	}
	return snap
}

// Import replaces all state with the snapshot, keeping its ids. Id counters
// resume after the highest numeric suffix. An invalid snapshot is rejected
// as a whole and the store is left unchanged.
func (s *Store) Import(snap store.Snapshot) error {
	rules := make(map[string]store.Rule, len(snap.Rules))
	ruleOrder := make([]string, 0, len(snap.Rules))
	maxRule := 0
	for i, r := range snap.Rules {
		if r.ID == "" {
			return fmt.Errorf("%w: rule %d has no id", internalerr.ErrInvalidInput, i)
		}
		if _, dup := rules[r.ID]; dup {
			return fmt.Errorf("%w: rule id %s", internalerr.ErrDuplicate, r.ID)
		}
		built, err := buildRule(r.Condition, r.Conclusion, store.RuleOptions{
			Name:       r.Name,
			Priority:   r.Priority,
			Confidence: store.Ptr(r.Confidence),
			Tags:       r.Tags,
			Terms:      r.Terms,
			Inactive:   !r.Active,
		})
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		built.ID = r.ID
		built.CreatedAt = r.CreatedAt
		rules[r.ID] = built
		ruleOrder = append(ruleOrder, r.ID)
		maxRule = max(maxRule, idSuffix(r.ID, rulePrefix))
	}

	facts := make(map[string]store.Fact, len(snap.Facts))
	factOrder := make([]string, 0, len(snap.Facts))
	nameIndex := make(map[string]string, len(snap.Facts))
	maxFact := 0
	for i, f := range snap.Facts {
		if f.ID == "" {
			return fmt.Errorf("%w: fact %d has no id", internalerr.ErrInvalidInput, i)
		}
		if _, dup := facts[f.ID]; dup {
			return fmt.Errorf("%w: fact id %s", internalerr.ErrDuplicate, f.ID)
		}
		key := normalize.Text(f.Name)
		if key == "" {
			return fmt.Errorf("%w: fact %s has no name", internalerr.ErrInvalidInput, f.ID)
		}
		if _, dup := nameIndex[key]; dup {
			return fmt.Errorf("%w: fact name %q", internalerr.ErrDuplicate, key)
		}
		if _, err := confidenceOrDefault(&f.Confidence); err != nil {
			return fmt.Errorf("fact %s: %w", f.ID, err)
		}
		f.Name = key
		facts[f.ID] = f
		factOrder = append(factOrder, f.ID)
		nameIndex[key] = f.ID
		maxFact = max(maxFact, idSuffix(f.ID, factPrefix))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules, s.ruleOrder = rules, ruleOrder
	s.facts, s.factOrder, s.nameIndex = facts, factOrder, nameIndex
	s.ruleCounter, s.factCounter = maxRule, maxFact
	s.log.Debug("knowledge store imported", zap.Int("rules", len(rules)), zap.Int("facts", len(facts)))
	return nil
}

// Clear removes all rules and facts and resets the id counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// === Helpers ===

func buildRule(condition, conclusion string, opts store.RuleOptions) (store.Rule, error) {
	var (
		terms []store.Term
		err   error
	)
	if len(opts.Terms) > 0 {
		if err := match.ValidateTerms(opts.Terms); err != nil {
			return store.Rule{}, err
		}
		terms = normalizeTerms(opts.Terms)
		if normalize.Text(condition) == "" {
			condition = match.FormatTerms(terms)
		}
	} else {
		terms, err = match.ParseCondition(condition)
		if err != nil {
			return store.Rule{}, err
		}
	}

	if _, _, err := match.ParseConclusion(conclusion); err != nil {
		return store.Rule{}, err
	}

	confidence, err := confidenceOrDefault(opts.Confidence)
	if err != nil {
		return store.Rule{}, err
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 1
	}

	return store.Rule{
		Name:       strings.TrimSpace(opts.Name),
		Condition:  normalize.Text(condition),
		Terms:      terms,
		Conclusion: normalize.Text(conclusion),
		Priority:   priority,
		Confidence: confidence,
		Active:     !opts.Inactive,
		Tags:       copyStrings(opts.Tags),
	}, nil
}

func applyPatch(r store.Rule, p store.RulePatch) (store.Rule, error) {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Terms != nil {
		if err := match.ValidateTerms(p.Terms); err != nil {
			return r, err
		}
		r.Terms = normalizeTerms(p.Terms)
		r.Condition = normalize.Text(match.FormatTerms(r.Terms))
	}
	if p.Condition != nil {
		if p.Terms == nil {
			terms, err := match.ParseCondition(*p.Condition)
			if err != nil {
				return r, err
			}
			r.Terms = terms
		}
		r.Condition = normalize.Text(*p.Condition)
	}
	if p.Conclusion != nil {
		if _, _, err := match.ParseConclusion(*p.Conclusion); err != nil {
			return r, err
		}
		r.Conclusion = normalize.Text(*p.Conclusion)
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Confidence != nil {
		c, err := confidenceOrDefault(p.Confidence)
		if err != nil {
			return r, err
		}
		r.Confidence = c
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.Tags != nil {
		r.Tags = copyStrings(p.Tags)
	}
	return r, nil
}

func confidenceOrDefault(c *float64) (float64, error) {
	if c == nil {
		return 1, nil
	}
	if math.IsNaN(*c) || *c < 0 || *c > 1 {
		return 0, fmt.Errorf("%w: confidence %v outside [0,1]", internalerr.ErrInvalidInput, *c)
	}
	return *c, nil
}

func normalizeTerms(in []store.Term) []store.Term {
	out := make([]store.Term, len(in))
	for i, t := range in {
		out[i] = store.Term{Fact: normalize.Text(t.Fact), Operator: t.Operator, Value: t.Value}
	}
	return out
}

func copyRule(r store.Rule) store.Rule {
	if r.Terms != nil {
		terms := make([]store.Term, len(r.Terms))
		copy(terms, r.Terms)
		r.Terms = terms
	}
	r.Tags = copyStrings(r.Tags)
	return r
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// idSuffix parses the numeric suffix of ids like "rule_12"; other ids count as 0.
func idSuffix(id, prefix string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil || n < 0 || !strings.HasPrefix(id, prefix) {
		return 0
	}
	return n
}
