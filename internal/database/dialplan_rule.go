package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// ruleColumns is shared by dialplan_rules and default_rules; the tenant
// column is prepended for the tenant table only.
const ruleColumns = `id, context, name, pattern, destination_type, destination_target,
	 actions, continue_on_match, enabled, sequence, raw_xml, created_at, updated_at, updated_by`

// dialplanRuleRepo implements DialplanRuleRepository.
type dialplanRuleRepo struct {
	db *DB
}

// NewDialplanRuleRepository creates a new DialplanRuleRepository.
func NewDialplanRuleRepository(db *DB) DialplanRuleRepository {
	return &dialplanRuleRepo{db: db}
}

// Create inserts a new rule, assigning its timestamps and, when empty, its ID.
func (r *dialplanRuleRepo) Create(ctx context.Context, rule *models.DialplanRule) error {
	if rule.Tenant == "" {
		return ErrTenantRequired
	}
	if err := encodeActions(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = NewRuleID()
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO dialplan_rules (tenant_id, `+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rule.Tenant, rule.ID, rule.Context, rule.Name, rule.Pattern,
		string(rule.DestinationType), rule.DestinationTarget, rule.ActionsJSON,
		rule.ContinueOnMatch, rule.Enabled, rule.Sequence, rule.RawXML,
		rule.CreatedAt, rule.UpdatedAt, rule.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting dialplan rule: %w", err)
	}
	return nil
}

// Get returns a rule by ID within a tenant, or nil if it does not exist
// there. A rule owned by another tenant is indistinguishable from a missing one.
func (r *dialplanRuleRepo) Get(ctx context.Context, tenant, id string) (*models.DialplanRule, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	return getRule(ctx, r.db.DB, r.db.Rebind(
		`SELECT tenant_id, `+ruleColumns+` FROM dialplan_rules WHERE tenant_id = ? AND id = ?`),
		tenant, id)
}

// List returns the rules of one (tenant, context) in evaluation order:
// sequence ascending, then creation order.
func (r *dialplanRuleRepo) List(ctx context.Context, tenant, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	q := `SELECT tenant_id, ` + ruleColumns + ` FROM dialplan_rules
		 WHERE tenant_id = ? AND context = ?`
	if !includeDisabled {
		q += ` AND enabled = ?`
	}
	q += ` ORDER BY sequence, id`

	args := []any{tenant, ruleContext}
	if !includeDisabled {
		args = append(args, true)
	}
	return selectRules(ctx, r.db.DB, r.db.Rebind(q), args...)
}

// ListContexts returns the distinct contexts a tenant has rules in.
func (r *dialplanRuleRepo) ListContexts(ctx context.Context, tenant string) ([]string, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var contexts []string
	if err := r.db.SelectContext(ctx, &contexts, r.db.Rebind(
		`SELECT DISTINCT context FROM dialplan_rules WHERE tenant_id = ? ORDER BY context`), tenant); err != nil {
		return nil, fmt.Errorf("querying rule contexts: %w", err)
	}
	return contexts, nil
}

// Update locks the rule, applies mutate and writes it back in one
// transaction. Returns nil if the rule does not exist for this tenant.
func (r *dialplanRuleRepo) Update(ctx context.Context, tenant, id string, mutate RuleMutator) (*models.DialplanRule, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}

	var updated *models.DialplanRule
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		rule, err := getRule(ctx, tx, r.db.Rebind(
			`SELECT tenant_id, `+ruleColumns+` FROM dialplan_rules WHERE tenant_id = ? AND id = ?`+r.db.forUpdate()),
			tenant, id)
		if err != nil || rule == nil {
			return err
		}

		if err := mutate(rule); err != nil {
			return err
		}
		// Identity and ownership are not editable.
		rule.ID, rule.Tenant = id, tenant
		if err := encodeActions(rule); err != nil {
			return err
		}
		rule.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE dialplan_rules SET context = ?, name = ?, pattern = ?, destination_type = ?,
			 destination_target = ?, actions = ?, continue_on_match = ?, enabled = ?, sequence = ?,
			 raw_xml = ?, updated_at = ?, updated_by = ?
			 WHERE tenant_id = ? AND id = ?`),
			rule.Context, rule.Name, rule.Pattern, string(rule.DestinationType),
			rule.DestinationTarget, rule.ActionsJSON, rule.ContinueOnMatch, rule.Enabled, rule.Sequence,
			rule.RawXML, rule.UpdatedAt, rule.UpdatedBy,
			tenant, id,
		)
		if err != nil {
			return fmt.Errorf("updating dialplan rule: %w", err)
		}
		updated = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a rule. Returns false if the tenant has no such rule.
func (r *dialplanRuleRepo) Delete(ctx context.Context, tenant, id string) (bool, error) {
	if tenant == "" {
		return false, ErrTenantRequired
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM dialplan_rules WHERE tenant_id = ? AND id = ?`), tenant, id)
	if err != nil {
		return false, fmt.Errorf("deleting dialplan rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted rules: %w", err)
	}
	return n > 0, nil
}

func getRule(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*models.DialplanRule, error) {
	var rule models.DialplanRule
	err := sqlx.GetContext(ctx, q, &rule, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning dialplan rule: %w", err)
	}
	if err := decodeActions(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func selectRules(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]models.DialplanRule, error) {
	var rules []models.DialplanRule
	if err := sqlx.SelectContext(ctx, q, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("querying dialplan rules: %w", err)
	}
	for i := range rules {
		if err := decodeActions(&rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func encodeActions(rule *models.DialplanRule) error {
	actions := rule.Actions
	if actions == nil {
		actions = []models.ActionDirective{}
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encoding rule actions: %w", err)
	}
	rule.ActionsJSON = string(b)
	return nil
}

func decodeActions(rule *models.DialplanRule) error {
	rule.Actions = nil
	if rule.ActionsJSON == "" || rule.ActionsJSON == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(rule.ActionsJSON), &rule.Actions); err != nil {
		return fmt.Errorf("decoding actions of rule %s: %w", rule.ID, err)
	}
	return nil
}
