package database

import (
	"context"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// TenantRepository manages tenants and the SIP domains they own.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Count(ctx context.Context) (int64, error)
	AddDomain(ctx context.Context, tenantID, domain string) error
	ListDomains(ctx context.Context, tenantID string) ([]string, error)
	TenantForDomain(ctx context.Context, domain string) (string, error)
}

// RuleMutator edits a locked rule in place during an update.
type RuleMutator func(rule *models.DialplanRule) error

// DialplanRuleRepository manages tenant-scoped dialplan rules. Every method
// requires a tenant and never reads or writes another tenant's rows.
type DialplanRuleRepository interface {
	Create(ctx context.Context, rule *models.DialplanRule) error
	Get(ctx context.Context, tenant, id string) (*models.DialplanRule, error)
	List(ctx context.Context, tenant, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error)
	ListContexts(ctx context.Context, tenant string) ([]string, error)
	Update(ctx context.Context, tenant, id string, mutate RuleMutator) (*models.DialplanRule, error)
	Delete(ctx context.Context, tenant, id string) (bool, error)
}

// DefaultRuleRepository manages the global fallback rules. They are stored
// apart from tenant rules and never merged with them.
type DefaultRuleRepository interface {
	Create(ctx context.Context, rule *models.DialplanRule) error
	Get(ctx context.Context, id string) (*models.DialplanRule, error)
	List(ctx context.Context, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error)
	ListContexts(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id string, mutate RuleMutator) (*models.DialplanRule, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// RegistrationRepository manages SIP registrations reported by the switch.
type RegistrationRepository interface {
	Upsert(ctx context.Context, reg *models.Registration) error
	IsRegistered(ctx context.Context, tenant, user, domain string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// RingGroupRepository manages ring groups.
type RingGroupRepository interface {
	Create(ctx context.Context, rg *models.RingGroup) error
	GetByName(ctx context.Context, tenant, name string) (*models.RingGroup, error)
	List(ctx context.Context, tenant string) ([]models.RingGroup, error)
	Delete(ctx context.Context, tenant string, id int64) (bool, error)
}

// IVRMenuRepository manages IVR menus.
type IVRMenuRepository interface {
	Create(ctx context.Context, ivr *models.IVRMenu) error
	GetByName(ctx context.Context, tenant, name string) (*models.IVRMenu, error)
	List(ctx context.Context, tenant string) ([]models.IVRMenu, error)
	Delete(ctx context.Context, tenant string, id int64) (bool, error)
}

// VoicemailBoxRepository manages voicemail box configurations.
type VoicemailBoxRepository interface {
	Create(ctx context.Context, box *models.VoicemailBox) error
	GetByMailbox(ctx context.Context, tenant, mailbox string) (*models.VoicemailBox, error)
	List(ctx context.Context, tenant string) ([]models.VoicemailBox, error)
	Delete(ctx context.Context, tenant string, id int64) (bool, error)
}
