// Package rules is the write path for dialplan rules. It validates edits,
// refreshes each rule's cached XML fragment, drops stale rendered documents
// and announces the change.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/cache"
	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
	"github.com/tenantpbx/tenantpbx/internal/events"
	"github.com/tenantpbx/tenantpbx/internal/xmldoc"
)

// Service edits tenant and default rules.
type Service struct {
	rules          database.DialplanRuleRepository
	defaults       database.DefaultRuleRepository
	defaultContext string
	documents      cache.Documents
	publisher      events.Publisher
	logger         *slog.Logger
}

// NewService creates a rule service. defaultContext names the context that
// is always served from the default rules; tenants may not write rules into
// it. documents and publisher may be nil.
func NewService(
	rules database.DialplanRuleRepository,
	defaults database.DefaultRuleRepository,
	defaultContext string,
	documents cache.Documents,
	publisher events.Publisher,
	logger *slog.Logger,
) *Service {
	if documents == nil {
		documents = cache.Nop{}
	}
	logger = logger.With("subsystem", "rules")
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	if defaultContext == "" {
		defaultContext = "default"
	}
	return &Service{
		rules:          rules,
		defaults:       defaults,
		defaultContext: defaultContext,
		documents:      documents,
		publisher:      publisher,
		logger:         logger,
	}
}

// Tenant returns the rule set of one tenant.
func (s *Service) Tenant(tenant string) *Scope {
	return &Scope{svc: s, tenant: tenant, store: tenantStore{repo: s.rules, tenant: tenant}}
}

// Defaults returns the global default rule set.
func (s *Service) Defaults() *Scope {
	return &Scope{svc: s, global: true, store: defaultStore{repo: s.defaults}}
}

// Scope edits the rules of a single tenant, or the default rules.
type Scope struct {
	svc    *Service
	tenant string
	global bool
	store  store
}

// CacheScope returns the document cache scope these rules render into.
func (sc *Scope) CacheScope() string {
	if sc.global {
		return cache.DefaultScope
	}
	return sc.tenant
}

// Create validates and stores a new rule. The rule's ID, tenant and
// timestamps are assigned here.
func (sc *Scope) Create(ctx context.Context, rule *models.DialplanRule, by string) error {
	if err := sc.insert(ctx, rule, by); err != nil {
		return err
	}
	sc.changed(ctx, events.RuleCreated, rule, by)
	return nil
}

func (sc *Scope) insert(ctx context.Context, rule *models.DialplanRule, by string) error {
	rule.ID = database.NewRuleID()
	rule.Tenant = sc.tenant
	rule.UpdatedBy = by
	if err := sc.prepare(rule); err != nil {
		return err
	}
	return sc.store.create(ctx, rule)
}

// Get returns one rule or a *dialplan.NotFoundError.
func (sc *Scope) Get(ctx context.Context, id string) (*models.DialplanRule, error) {
	rule, err := sc.store.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, &dialplan.NotFoundError{Kind: "rule", Key: id}
	}
	return rule, nil
}

// List returns the rules of a context in evaluation order.
func (sc *Scope) List(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error) {
	return sc.store.list(ctx, ruleContext, includeDisabled)
}

// Contexts returns the contexts that hold at least one rule.
func (sc *Scope) Contexts(ctx context.Context) ([]string, error) {
	return sc.store.contexts(ctx)
}

// Update applies patch to a rule. The patched rule is validated before it
// is written; an invalid patch leaves the stored rule untouched.
func (sc *Scope) Update(ctx context.Context, id string, patch models.RulePatch, by string) (*models.DialplanRule, error) {
	updated, err := sc.store.update(ctx, id, func(r *models.DialplanRule) error {
		patch.Apply(r)
		r.UpdatedBy = by
		return sc.prepare(r)
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, &dialplan.NotFoundError{Kind: "rule", Key: id}
	}
	sc.changed(ctx, events.RuleUpdated, updated, by)
	return updated, nil
}

// Delete removes a rule.
func (sc *Scope) Delete(ctx context.Context, id, by string) error {
	rule, err := sc.Get(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := sc.store.delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return &dialplan.NotFoundError{Kind: "rule", Key: id}
	}
	sc.changed(ctx, events.RuleDeleted, rule, by)
	return nil
}

// changed drops the scope's cached documents and publishes the change. The
// write has already committed, so failures here are logged, not returned.
func (sc *Scope) changed(ctx context.Context, kind string, rule *models.DialplanRule, by string) {
	logger := sc.svc.logger.With("tenant", sc.tenant, "rule_id", rule.ID, "context", rule.Context)

	if err := sc.svc.documents.Invalidate(ctx, sc.CacheScope()); err != nil {
		logger.Warn("failed to invalidate document cache", "error", err)
	}

	change := events.RuleChange{
		Type:      kind,
		Tenant:    sc.tenant,
		Context:   rule.Context,
		RuleID:    rule.ID,
		UpdatedBy: by,
		At:        time.Now().UTC(),
	}
	if err := sc.svc.publisher.Publish(ctx, change); err != nil {
		logger.Warn("failed to publish rule change", "type", kind, "error", err)
	}
	logger.Debug("rule changed", "type", kind)
}

// validate checks a rule against the scope it is written to.
func (sc *Scope) validate(rule *models.DialplanRule) error {
	if !sc.global && rule.Context == sc.svc.defaultContext {
		return &dialplan.ValidationError{
			Field:  "context",
			Reason: fmt.Sprintf("%q is served from the default rules", rule.Context),
		}
	}
	return dialplan.ValidateRule(rule)
}

// prepare validates a rule and refreshes its cached fragment.
func (sc *Scope) prepare(rule *models.DialplanRule) error {
	if err := sc.validate(rule); err != nil {
		return err
	}
	fragment, err := xmldoc.RenderFragment(rule)
	if err != nil {
		return fmt.Errorf("rendering rule fragment: %w", err)
	}
	rule.RawXML = fragment
	return nil
}
