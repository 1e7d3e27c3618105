package dialplan

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the resolver.
var (
	// ErrNoMatch means no enabled rule in the context matched the dialed
	// number. It is an expected outcome, not a failure.
	ErrNoMatch = errors.New("no matching dialplan rule")

	// ErrTenantRequired is returned when a resolution is attempted without
	// a tenant identifier.
	ErrTenantRequired = errors.New("tenant id required")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PatternError reports a rule pattern that cannot be compiled or evaluated.
type PatternError struct {
	RuleID  string
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule %s: invalid pattern %q: %v", e.RuleID, e.Pattern, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// NotFoundError reports a tenant, domain or rule lookup miss.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// DependencyError reports a failure of the rule store or another external
// collaborator after any retry was exhausted.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// UnknownActionError reports a signaling action outside the supported set.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}
