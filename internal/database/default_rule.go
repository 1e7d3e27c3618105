package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// defaultRuleRepo implements DefaultRuleRepository.
type defaultRuleRepo struct {
	db *DB
}

// NewDefaultRuleRepository creates a new DefaultRuleRepository.
func NewDefaultRuleRepository(db *DB) DefaultRuleRepository {
	return &defaultRuleRepo{db: db}
}

// Create inserts a new default rule. Any tenant on the rule is cleared.
func (r *defaultRuleRepo) Create(ctx context.Context, rule *models.DialplanRule) error {
	if err := encodeActions(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = NewRuleID()
	}
	rule.Tenant = ""
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO default_rules (`+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rule.ID, rule.Context, rule.Name, rule.Pattern,
		string(rule.DestinationType), rule.DestinationTarget, rule.ActionsJSON,
		rule.ContinueOnMatch, rule.Enabled, rule.Sequence, rule.RawXML,
		rule.CreatedAt, rule.UpdatedAt, rule.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting default rule: %w", err)
	}
	return nil
}

// Get returns a default rule by ID, or nil if it does not exist.
func (r *defaultRuleRepo) Get(ctx context.Context, id string) (*models.DialplanRule, error) {
	return getRule(ctx, r.db.DB, r.db.Rebind(
		`SELECT `+ruleColumns+` FROM default_rules WHERE id = ?`), id)
}

// List returns the default rules of a context in evaluation order.
func (r *defaultRuleRepo) List(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM default_rules WHERE context = ?`
	args := []any{ruleContext}
	if !includeDisabled {
		q += ` AND enabled = ?`
		args = append(args, true)
	}
	q += ` ORDER BY sequence, id`
	return selectRules(ctx, r.db.DB, r.db.Rebind(q), args...)
}

// ListContexts returns the distinct contexts that have default rules.
func (r *defaultRuleRepo) ListContexts(ctx context.Context) ([]string, error) {
	var contexts []string
	if err := r.db.SelectContext(ctx, &contexts,
		`SELECT DISTINCT context FROM default_rules ORDER BY context`); err != nil {
		return nil, fmt.Errorf("querying default rule contexts: %w", err)
	}
	return contexts, nil
}

// Update locks the default rule, applies mutate and writes it back.
// Returns nil if the rule does not exist.
func (r *defaultRuleRepo) Update(ctx context.Context, id string, mutate RuleMutator) (*models.DialplanRule, error) {
	var updated *models.DialplanRule
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		rule, err := getRule(ctx, tx, r.db.Rebind(
			`SELECT `+ruleColumns+` FROM default_rules WHERE id = ?`+r.db.forUpdate()), id)
		if err != nil || rule == nil {
			return err
		}

		if err := mutate(rule); err != nil {
			return err
		}
		rule.ID, rule.Tenant = id, ""
		if err := encodeActions(rule); err != nil {
			return err
		}
		rule.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE default_rules SET context = ?, name = ?, pattern = ?, destination_type = ?,
			 destination_target = ?, actions = ?, continue_on_match = ?, enabled = ?, sequence = ?,
			 raw_xml = ?, updated_at = ?, updated_by = ?
			 WHERE id = ?`),
			rule.Context, rule.Name, rule.Pattern, string(rule.DestinationType),
			rule.DestinationTarget, rule.ActionsJSON, rule.ContinueOnMatch, rule.Enabled, rule.Sequence,
			rule.RawXML, rule.UpdatedAt, rule.UpdatedBy,
			id,
		)
		if err != nil {
			return fmt.Errorf("updating default rule: %w", err)
		}
		updated = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a default rule. Returns false if it did not exist.
func (r *defaultRuleRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM default_rules WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("deleting default rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted rules: %w", err)
	}
	return n > 0, nil
}
