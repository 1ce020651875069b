// Package inference defines the results of forward and backward chaining and
// the Reasoner interface the rest of the system depends on.
package inference

import (
	"time"

	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// Reasoner derives and proves facts from the rules in a knowledge store.
// Implementations never return errors: malformed rules degrade to "no match".
type Reasoner interface {
	// Forward runs forward chaining to a fixpoint. A nil start uses the
	// store's facts and writes derived facts back to the store; otherwise
	// only a working copy of start is used.
	Forward(start []store.Fact) ForwardResult

	// Backward tries to prove goal. A nil facts slice uses the store's facts.
	// The store is never modified.
	Backward(goal string, facts []store.Fact) BackwardResult

	// Query answers a free-text question, trying forward chaining first and
	// falling back to backward chaining.
	Query(question string) QueryResult
}

// Method names the chaining strategy of a run
type Method string

const (
	MethodForward  Method = "forward"
	MethodBackward Method = "backward"
)

// ForwardResult is the outcome of one forward chaining run
type ForwardResult struct {
	Success       bool          `json:"success"`
	DerivedFacts  []string      `json:"derivedFacts"`
	AppliedRules  []store.Rule  `json:"appliedRules"`
	AllFacts      []store.Fact  `json:"allFacts"`
	Steps         []string      `json:"steps"`
	Iterations    int           `json:"iterations"`
	LimitReached  bool          `json:"limitReached"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// BackwardResult is the outcome of one backward chaining run
type BackwardResult struct {
	Success       bool          `json:"success"`
	Goal          string        `json:"goal"`
	Proof         []string      `json:"proof"`
	UsedRules     []store.Rule  `json:"usedRules"`
	Steps         []string      `json:"steps"`
	CycleDetected bool          `json:"cycleDetected"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// QueryResult carries whichever run answered a query.
type QueryResult struct {
	Question string          `json:"question"`
	Method   Method          `json:"method"`
	Answer   bool            `json:"answer"`
	Forward  *ForwardResult  `json:"forward,omitempty"`
	Backward *BackwardResult `json:"backward,omitempty"`
}

// HistoryEntry records one chaining run. Exactly one of Forward and
// Backward is set, matching Method.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Method    Method          `json:"method"`
	Input     string          `json:"input,omitempty"`
	Forward   *ForwardResult  `json:"forward,omitempty"`
	Backward  *BackwardResult `json:"backward,omitempty"`
}

// Success reports whether the recorded run succeeded.
func (h HistoryEntry) Success() bool {
	switch {
	case h.Forward != nil:
		return h.Forward.Success
	case h.Backward != nil:
		return h.Backward.Success
	}
	return false
}
