package presence

import (
	"context"

	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// SQLRegistrar keeps registrations in the registrations table.
type SQLRegistrar struct {
	repo database.RegistrationRepository
}

// NewSQLRegistrar creates a registrar backed by the relational store.
func NewSQLRegistrar(repo database.RegistrationRepository) *SQLRegistrar {
	return &SQLRegistrar{repo: repo}
}

// Register records or refreshes a registration.
func (s *SQLRegistrar) Register(ctx context.Context, reg *models.Registration) error {
	return s.repo.Upsert(ctx, reg)
}

// IsRegistered reports whether user has an unexpired registration.
func (s *SQLRegistrar) IsRegistered(ctx context.Context, tenant, user, domain string) (bool, error) {
	return s.repo.IsRegistered(ctx, tenant, user, domain)
}
