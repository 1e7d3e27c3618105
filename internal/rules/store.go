package rules

import (
	"context"

	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// store hides which table a Scope reads and writes.
type store interface {
	create(ctx context.Context, rule *models.DialplanRule) error
	get(ctx context.Context, id string) (*models.DialplanRule, error)
	list(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error)
	contexts(ctx context.Context) ([]string, error)
	update(ctx context.Context, id string, mutate database.RuleMutator) (*models.DialplanRule, error)
	delete(ctx context.Context, id string) (bool, error)
}

type tenantStore struct {
	repo   database.DialplanRuleRepository
	tenant string
}

func (s tenantStore) create(ctx context.Context, rule *models.DialplanRule) error {
	return s.repo.Create(ctx, rule)
}

func (s tenantStore) get(ctx context.Context, id string) (*models.DialplanRule, error) {
	return s.repo.Get(ctx, s.tenant, id)
}

func (s tenantStore) list(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error) {
	return s.repo.List(ctx, s.tenant, ruleContext, includeDisabled)
}

func (s tenantStore) contexts(ctx context.Context) ([]string, error) {
	return s.repo.ListContexts(ctx, s.tenant)
}

func (s tenantStore) update(ctx context.Context, id string, mutate database.RuleMutator) (*models.DialplanRule, error) {
	return s.repo.Update(ctx, s.tenant, id, mutate)
}

func (s tenantStore) delete(ctx context.Context, id string) (bool, error) {
	return s.repo.Delete(ctx, s.tenant, id)
}

type defaultStore struct {
	repo database.DefaultRuleRepository
}

func (s defaultStore) create(ctx context.Context, rule *models.DialplanRule) error {
	return s.repo.Create(ctx, rule)
}

func (s defaultStore) get(ctx context.Context, id string) (*models.DialplanRule, error) {
	return s.repo.Get(ctx, id)
}

func (s defaultStore) list(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error) {
	return s.repo.List(ctx, ruleContext, includeDisabled)
}

func (s defaultStore) contexts(ctx context.Context) ([]string, error) {
	return s.repo.ListContexts(ctx)
}

func (s defaultStore) update(ctx context.Context, id string, mutate database.RuleMutator) (*models.DialplanRule, error) {
	return s.repo.Update(ctx, id, mutate)
}

func (s defaultStore) delete(ctx context.Context, id string) (bool, error) {
	return s.repo.Delete(ctx, id)
}
