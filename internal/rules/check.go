package rules

import (
	"context"
	"fmt"
)

// Severity indicates how serious a check issue is.
type Severity string

const (
	// SeverityError marks a rule the resolver will fail on.
	SeverityError Severity = "error"
	// SeverityWarning marks a rule that works but may not route as intended.
	SeverityWarning Severity = "warning"
)

// Issue describes one problem found in stored rules.
type Issue struct {
	Severity Severity `json:"severity"`
	Context  string   `json:"context"`
	RuleID   string   `json:"rule_id"`
	Message  string   `json:"message"`
}

// CheckResult holds the outcome of checking every stored rule of a scope.
type CheckResult struct {
	Rules  int     `json:"rules"`
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Check re-validates every stored rule, enabled or not, across all contexts.
func (sc *Scope) Check(ctx context.Context) (*CheckResult, error) {
	contexts, err := sc.store.contexts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contexts: %w", err)
	}

	result := &CheckResult{Valid: true, Issues: []Issue{}}
	for _, c := range contexts {
		rules, err := sc.store.list(ctx, c, true)
		if err != nil {
			return nil, fmt.Errorf("listing rules in %s: %w", c, err)
		}
		result.Rules += len(rules)

		sequences := make(map[int]string)
		for i := range rules {
			rule := &rules[i]
			if err := sc.validate(rule); err != nil {
				result.Valid = false
				result.Issues = append(result.Issues, Issue{
					Severity: SeverityError,
					Context:  c,
					RuleID:   rule.ID,
					Message:  err.Error(),
				})
			}
			if !rule.Enabled {
				continue
			}
			if first, ok := sequences[rule.Sequence]; ok {
				result.Issues = append(result.Issues, Issue{
					Severity: SeverityWarning,
					Context:  c,
					RuleID:   rule.ID,
					Message:  fmt.Sprintf("sequence %d shared with rule %s; creation order decides", rule.Sequence, first),
				})
				continue
			}
			sequences[rule.Sequence] = rule.ID
		}
	}
	return result, nil
}
