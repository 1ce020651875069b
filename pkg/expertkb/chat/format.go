package chat

import (
	"fmt"
	"strings"

	"github.com/cognicore/expertkb/pkg/expertkb/explain"
	"github.com/cognicore/expertkb/pkg/expertkb/inference"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

const (
	ruleUsage = "use the form \"SE [condição] ENTÃO [conclusão]\" or \"IF [condition] THEN [conclusion]\"\nexample: SE idade >= 18 ENTÃO maior_de_idade"
	factUsage = "use the form \"[name] = [value]\"\nexample: idade = 25 or \"define que usuario_logado = verdadeiro\""

	// maxFailedSteps caps the trace shown for a failed proof.
	maxFailedSteps = 5
)

func percent(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

func ruleNames(rules []store.Rule) string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.DisplayName()
	}
	return strings.Join(names, ", ")
}

// FormatForward renders a forward chaining run.
func FormatForward(res inference.ForwardResult) string {
	var b strings.Builder
	if res.Success {
		fmt.Fprintf(&b, "derived %d fact(s): %s\n", len(res.DerivedFacts), strings.Join(res.DerivedFacts, ", "))
		fmt.Fprintf(&b, "rules applied: %s\n", ruleNames(res.AppliedRules))
	} else {
		b.WriteString("nothing new was derived\n")
	}
	if res.LimitReached {
		b.WriteString("warning: iteration limit reached, results are partial\n")
	}
	fmt.Fprintf(&b, "iterations: %d, time: %s", res.Iterations, res.ExecutionTime)
	return b.String()
}

// FormatBackward renders a backward chaining run.
func FormatBackward(res inference.BackwardResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "goal: %q\n\n", res.Goal)
	if res.Success {
		b.WriteString("TRUE: the goal was proven\n\nproof:\n")
		for i, p := range res.Proof {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		fmt.Fprintf(&b, "\nrules used: %s\n", ruleNames(res.UsedRules))
	} else {
		b.WriteString("FALSE: the goal could not be proven\n\nattempts:\n")
		shown := res.Steps
		if len(shown) > maxFailedSteps {
			shown = shown[:maxFailedSteps]
		}
		for _, s := range shown {
			b.WriteString(s + "\n")
		}
		if more := len(res.Steps) - len(shown); more > 0 {
			fmt.Fprintf(&b, "... and %d more step(s)\n", more)
		}
		if res.CycleDetected {
			b.WriteString("a circular rule chain was detected\n")
		}
	}
	fmt.Fprintf(&b, "\ntime: %s", res.ExecutionTime)
	return b.String()
}

// FormatQuery renders the run that answered a query.
func FormatQuery(res inference.QueryResult) string {
	switch {
	case res.Backward != nil:
		return FormatBackward(*res.Backward)
	case res.Forward != nil:
		return fmt.Sprintf("goal: %q\n\nTRUE: derived by forward chaining\n\n%s", res.Question, FormatForward(*res.Forward))
	}
	return fmt.Sprintf("goal: %q\n\nno answer", res.Question)
}

// FormatWhy renders a why-explanation.
func FormatWhy(w explain.WhyExplanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "why %q?\n\n", w.Target)
	if !w.Found {
		b.WriteString("this conclusion is not supported by the knowledge base\n")
	}
	for i, item := range w.Explanation {
		fmt.Fprintf(&b, "%d. [%s] %s (confidence %s)\n", i+1, item.Kind, item.Description, percent(item.Confidence))
		if len(item.Dependencies) > 0 {
			fmt.Fprintf(&b, "   depends on: %s\n", strings.Join(item.Dependencies, ", "))
		}
		if item.Reason != "" {
			fmt.Fprintf(&b, "   reason: %s\n", item.Reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatHow renders a how-explanation.
func FormatHow(h explain.HowExplanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "how to reach %q?\n\n", h.Goal)
	if len(h.Strategies) == 0 {
		b.WriteString("no strategy found\n")
	}
	for i, s := range h.Strategies {
		mark := "feasible"
		if !s.Feasible {
			mark = "not feasible"
		}
		fmt.Fprintf(&b, "%d. [%s, %s] %s (confidence %s)\n", i+1, s.Kind, mark, s.Description, percent(s.Confidence))
		for j, step := range s.Steps {
			fmt.Fprintf(&b, "   %d. %s\n", j+1, step)
		}
		if len(s.RequiredFacts) > 0 {
			fmt.Fprintf(&b, "   facts needed: %s\n", strings.Join(s.RequiredFacts, ", "))
		}
		if len(s.RequiredRules) > 0 {
			fmt.Fprintf(&b, "   rules needed: %s\n", ruleNames(s.RequiredRules))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRules lists rules one per line.
func FormatRules(rules []store.Rule) string {
	if len(rules) == 0 {
		return "no rules"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d rule(s):\n", len(rules))
	for _, r := range rules {
		state := ""
		if !r.Active {
			state = " (inactive)"
		}
		fmt.Fprintf(&b, "- %s %s: %s%s\n", r.ID, r.DisplayName(), r, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFacts lists facts one per line.
func FormatFacts(facts []store.Fact) string {
	if len(facts) == 0 {
		return "no facts"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d fact(s):\n", len(facts))
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s %s = %s (%s, confidence %s)\n", f.ID, f.Name, f.Value, f.Value.Kind(), percent(f.Confidence))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Interface) help() string {
	return fmt.Sprintf(`commands:

1. add rules
   SE idade >= 18 ENTÃO maior_de_idade
   adicione a regra: SE salario > 5000 ENTÃO cliente_premium
   IF has feathers THEN bird

2. add facts
   idade = 25
   define que usuario_logado = verdadeiro

3. questions
   É verdade que usuário é maior de idade?
   verifique se cliente é premium

4. explanations
   Por que usuário é maior de idade?
   Como obter desconto?

5. other
   executar inferência   run forward chaining
   listar regras         list all rules
   listar fatos          list all facts
   ajuda                 this message

active rules: %d
facts: %d
messages: %d`, len(c.store.GetActiveRules()), len(c.store.GetAllFacts()), len(c.history))
}
