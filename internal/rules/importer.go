package rules

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/events"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout accepted by Import:
//
//	rules:
//	  - context: public
//	    name: reception
//	    pattern: "1000"
//	    destination_type: EXTENSION
//	    destination_target: "1000"
//	    sequence: 10
type File struct {
	Rules []Entry `yaml:"rules"`
}

// Entry is one rule in an import file. Enabled defaults to true.
type Entry struct {
	Context           string                   `yaml:"context"`
	Name              string                   `yaml:"name"`
	Pattern           string                   `yaml:"pattern"`
	DestinationType   models.DestinationType   `yaml:"destination_type"`
	DestinationTarget string                   `yaml:"destination_target"`
	Actions           []models.ActionDirective `yaml:"actions"`
	ContinueOnMatch   bool                     `yaml:"continue_on_match"`
	Enabled           *bool                    `yaml:"enabled"`
	Sequence          int                      `yaml:"sequence"`
}

func (e Entry) rule() *models.DialplanRule {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return &models.DialplanRule{
		Context:           e.Context,
		Name:              e.Name,
		Pattern:           e.Pattern,
		DestinationType:   e.DestinationType,
		DestinationTarget: e.DestinationTarget,
		Actions:           e.Actions,
		ContinueOnMatch:   e.ContinueOnMatch,
		Enabled:           enabled,
		Sequence:          e.Sequence,
	}
}

// ImportError reports the import file entry that failed.
type ImportError struct {
	Index int
	Err   error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.Index+1, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Import reads a YAML rule file and creates every rule in it. All entries
// are validated before the first write, and a failed write removes the
// rules already created, so a failing file imports nothing.
func (sc *Scope) Import(ctx context.Context, r io.Reader, by string) (int, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("decoding rule file: %w", err)
	}

	rules := make([]*models.DialplanRule, len(f.Rules))
	for i, e := range f.Rules {
		rules[i] = e.rule()
		if err := sc.validate(rules[i]); err != nil {
			return 0, &ImportError{Index: i, Err: err}
		}
	}

	for i, rule := range rules {
		if err := sc.insert(ctx, rule, by); err != nil {
			sc.discard(ctx, rules[:i])
			return 0, &ImportError{Index: i, Err: err}
		}
	}
	for _, rule := range rules {
		sc.changed(ctx, events.RuleCreated, rule, by)
	}
	return len(rules), nil
}

// discard deletes rules created earlier in a failed import.
func (sc *Scope) discard(ctx context.Context, created []*models.DialplanRule) {
	for i := len(created) - 1; i >= 0; i-- {
		if _, err := sc.store.delete(ctx, created[i].ID); err != nil {
			sc.svc.logger.Error("failed to remove partially imported rule",
				"tenant", sc.tenant, "rule_id", created[i].ID, "error", err)
		}
	}
}
