package dialplan

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// Status is the availability of a resolved destination.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

// Destination is where a resolved call goes. It is computed per resolution
// and never persisted.
type Destination struct {
	Type   models.DestinationType `json:"type"`
	Target string                 `json:"target"`
	Status Status                 `json:"status"`
}

// Resolution is the outcome of walking a context's rules for one number.
type Resolution struct {
	Destination Destination
	MatchedRule *models.DialplanRule

	// Continued lists the continue-on-match rules that matched, in order.
	Continued []models.DialplanRule

	// Directives is the full ordered action list: accumulated rule actions,
	// then the destination directive.
	Directives []models.ActionDirective
}

// Query identifies one resolution. Domain is optional and only narrows
// registration lookups.
type Query struct {
	Tenant  string
	Context string
	Dialed  string
	Domain  string
}

// TenantRules lists a tenant's rules for one context.
type TenantRules interface {
	List(ctx context.Context, tenant, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error)
}

// DefaultRules lists the global fallback rules for one context.
type DefaultRules interface {
	List(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error)
}

// Availability reports whether a destination can currently take a call.
// Implementations should honor ctx; errors are treated as unknown status.
type Availability interface {
	Check(ctx context.Context, tenant string, dest Destination, domain string) (Status, error)
}

// Options configures a Resolver.
type Options struct {
	// DefaultContext is the context name served from the global default
	// rules instead of the tenant's own rules.
	DefaultContext string

	// LookupTimeout bounds each store and availability call.
	LookupTimeout time.Duration

	// RetryBackoff is the pause before the single retry of a failed read.
	RetryBackoff time.Duration

	// Observer, if set, is told the outcome and latency of every resolution.
	Observer Observer
}

// Observer receives resolution outcomes, e.g. for metrics.
type Observer interface {
	ObserveResolution(outcome string, elapsed time.Duration)
}

// Resolution outcomes reported to an Observer.
const (
	OutcomeMatched    = "matched"
	OutcomeNoMatch    = "no_match"
	OutcomePattern    = "pattern_error"
	OutcomeDependency = "dependency_error"
	OutcomeInvalid    = "invalid"
)

const (
	defaultLookupTimeout = 500 * time.Millisecond
	defaultRetryBackoff  = 25 * time.Millisecond
)

// Resolver maps a dialed number to a destination by walking the ordered
// rules of a (tenant, context). It holds no per-call state and is safe for
// concurrent use.
type Resolver struct {
	rules          TenantRules
	defaults       DefaultRules
	availability   Availability
	defaultContext string
	lookupTimeout  time.Duration
	retryBackoff   time.Duration
	observer       Observer
	logger         *slog.Logger
}

// NewResolver creates a Resolver. availability may be nil, in which case
// every destination has unknown status.
func NewResolver(rules TenantRules, defaults DefaultRules, availability Availability, opts Options, logger *slog.Logger) *Resolver {
	if opts.DefaultContext == "" {
		opts.DefaultContext = "default"
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Resolver{
		rules:          rules,
		defaults:       defaults,
		availability:   availability,
		defaultContext: opts.DefaultContext,
		lookupTimeout:  opts.LookupTimeout,
		retryBackoff:   opts.RetryBackoff,
		observer:       opts.Observer,
		logger:         logger.With("subsystem", "resolver"),
	}
}

// DefaultContext returns the context name served from the default rules.
func (r *Resolver) DefaultContext() string {
	return r.defaultContext
}

// Resolve resolves dialed in the tenant's context.
func (r *Resolver) Resolve(ctx context.Context, tenant, ruleContext, dialed string) (*Resolution, error) {
	return r.ResolveFor(ctx, Query{Tenant: tenant, Context: ruleContext, Dialed: dialed})
}

// ResolveFor walks the enabled rules of q.Context in (sequence, id) order.
//
// The first matching rule without continue-on-match terminates the walk and
// supplies the destination. A matching continue-on-match rule contributes
// its actions and the walk goes on; if only such rules match, the last one
// supplies the destination.
//
// Errors:
//   - ErrTenantRequired: q.Tenant is empty
//   - ErrNoMatch: no rule matched
//   - *PatternError: a rule's pattern is invalid; the partial Resolution
//     built from the rules before it is returned alongside
//   - *DependencyError: the rule store failed twice
func (r *Resolver) ResolveFor(ctx context.Context, q Query) (res *Resolution, err error) {
	if r.observer != nil {
		start := time.Now()
		defer func() { r.observer.ObserveResolution(outcome(err), time.Since(start)) }()
	}
	return r.resolve(ctx, q)
}

func (r *Resolver) resolve(ctx context.Context, q Query) (*Resolution, error) {
	if q.Tenant == "" {
		return nil, ErrTenantRequired
	}
	if q.Context == "" {
		return nil, &ValidationError{Field: "context", Reason: "required"}
	}
	if !ValidDialed(q.Dialed) {
		return nil, &ValidationError{Field: "dialed", Reason: "only digits, +, * and # are allowed"}
	}

	rules, err := r.fetch(ctx, q.Tenant, q.Context)
	if err != nil {
		return nil, err
	}

	res := &Resolution{}
	var accumulated []models.ActionDirective
	var lastContinue *models.DialplanRule
	var lastMatch MatchResult

	for i := range rules {
		rule := &rules[i]

		m, err := Match(rule.Pattern, q.Dialed)
		if err != nil {
			var pe *PatternError
			if errors.As(err, &pe) {
				pe.RuleID = rule.ID
			}
			r.logger.Error("invalid dialplan pattern",
				"tenant", q.Tenant,
				"context", q.Context,
				"rule_id", rule.ID,
				"error", err,
			)
			res.Directives = accumulated
			return res, err
		}
		if !m.Matched {
			continue
		}

		accumulated = append(accumulated, expandActions(rule.Actions, m)...)
		if rule.ContinueOnMatch {
			res.Continued = append(res.Continued, *rule)
			lastContinue, lastMatch = rule, m
			continue
		}
		return r.finish(ctx, q, res, rule, m, accumulated)
	}

	if lastContinue != nil {
		return r.finish(ctx, q, res, lastContinue, lastMatch, accumulated)
	}
	return nil, ErrNoMatch
}

// ResolveWithFallback resolves in q.Context and, on no match, in the
// default context.
func (r *Resolver) ResolveWithFallback(ctx context.Context, q Query) (*Resolution, error) {
	res, err := r.ResolveFor(ctx, q)
	if !errors.Is(err, ErrNoMatch) || q.Context == r.defaultContext {
		return res, err
	}

	r.logger.Debug("no match in context, trying default",
		"tenant", q.Tenant,
		"context", q.Context,
		"dialed", q.Dialed,
	)
	q.Context = r.defaultContext
	return r.ResolveFor(ctx, q)
}

func (r *Resolver) finish(ctx context.Context, q Query, res *Resolution, rule *models.DialplanRule, m MatchResult, accumulated []models.ActionDirective) (*Resolution, error) {
	dest := Destination{
		Type:   rule.DestinationType,
		Target: Expand(rule.DestinationTarget, m),
		Status: StatusUnknown,
	}
	directive, err := DestinationDirective(dest)
	if err != nil {
		return nil, err
	}
	dest.Status = r.check(ctx, q, dest)

	matched := *rule
	res.MatchedRule = &matched
	res.Destination = dest
	res.Directives = append(accumulated, directive)

	r.logger.Debug("dialplan resolved",
		"tenant", q.Tenant,
		"context", q.Context,
		"dialed", q.Dialed,
		"rule_id", rule.ID,
		"destination", dest.Type,
		"target", dest.Target,
		"status", dest.Status,
	)
	return res, nil
}

// fetch lists enabled rules, retrying once after a short backoff.
func (r *Resolver) fetch(ctx context.Context, tenant, ruleContext string) ([]models.DialplanRule, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &DependencyError{Op: "listing dialplan rules", Err: ctx.Err()}
			case <-time.After(r.retryBackoff):
			}
		}

		rules, err := r.list(ctx, tenant, ruleContext)
		if err == nil {
			return ordered(rules), nil
		}
		lastErr = err
		r.logger.Warn("rule store read failed",
			"tenant", tenant,
			"context", ruleContext,
			"attempt", attempt+1,
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &DependencyError{Op: "listing dialplan rules", Err: lastErr}
}

func (r *Resolver) list(ctx context.Context, tenant, ruleContext string) ([]models.DialplanRule, error) {
	lctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	if ruleContext == r.defaultContext {
		if r.defaults == nil {
			return nil, nil
		}
		return r.defaults.List(lctx, ruleContext, false)
	}
	return r.rules.List(lctx, tenant, ruleContext, false)
}

func (r *Resolver) check(ctx context.Context, q Query, dest Destination) Status {
	if r.availability == nil {
		return StatusUnknown
	}
	cctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	status, err := r.availability.Check(cctx, q.Tenant, dest, q.Domain)
	if err != nil {
		r.logger.Warn("availability check failed",
			"tenant", q.Tenant,
			"destination", dest.Type,
			"target", dest.Target,
			"error", err,
		)
		return StatusUnknown
	}
	return status
}

func outcome(err error) string {
	var pe *PatternError
	var de *DependencyError
	switch {
	case err == nil:
		return OutcomeMatched
	case errors.Is(err, ErrNoMatch):
		return OutcomeNoMatch
	case errors.As(err, &pe):
		return OutcomePattern
	case errors.As(err, &de):
		return OutcomeDependency
	default:
		return OutcomeInvalid
	}
}

// ordered drops disabled rules and sorts the rest by (sequence, id) so the
// result does not depend on the order the store returned them in.
func ordered(rules []models.DialplanRule) []models.DialplanRule {
	out := make([]models.DialplanRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func expandActions(actions []models.ActionDirective, m MatchResult) []models.ActionDirective {
	out := make([]models.ActionDirective, 0, len(actions))
	for _, a := range actions {
		out = append(out, models.ActionDirective{Command: a.Command, Data: Expand(a.Data, m)})
	}
	return out
}

// ValidDialed reports whether s uses only the dial-string alphabet: ASCII
// digits, +, * and #. The empty string is valid and matches no rule that
// needs a digit.
func ValidDialed(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9', c == '+', c == '*', c == '#':
		default:
			return false
		}
	}
	return true
}
