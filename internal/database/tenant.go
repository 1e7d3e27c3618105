package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// tenantRepo implements TenantRepository.
type tenantRepo struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) TenantRepository {
	return &tenantRepo{db: db}
}

// Create inserts a new tenant.
func (r *tenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" {
		return ErrTenantRequired
	}
	t.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`),
		t.ID, t.Name, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// GetByID returns a tenant by ID, or nil if it does not exist.
func (r *tenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t,
		r.db.Rebind(`SELECT id, name, created_at FROM tenants WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &t, nil
}

// List returns all tenants ordered by name.
func (r *tenantRepo) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := r.db.SelectContext(ctx, &tenants,
		`SELECT id, name, created_at FROM tenants ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	return tenants, nil
}

// Count returns the number of tenants.
func (r *tenantRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tenants`); err != nil {
		return 0, fmt.Errorf("counting tenants: %w", err)
	}
	return n, nil
}

// AddDomain assigns a SIP domain to a tenant. Domains are unique across tenants.
func (r *tenantRepo) AddDomain(ctx context.Context, tenantID, domain string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO tenant_domains (domain, tenant_id, created_at) VALUES (?, ?, ?)`),
		normalizeDomain(domain), tenantID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting tenant domain: %w", err)
	}
	return nil
}

// ListDomains returns the domains owned by a tenant.
func (r *tenantRepo) ListDomains(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	var domains []string
	if err := r.db.SelectContext(ctx, &domains,
		r.db.Rebind(`SELECT domain FROM tenant_domains WHERE tenant_id = ? ORDER BY domain`), tenantID); err != nil {
		return nil, fmt.Errorf("querying tenant domains: %w", err)
	}
	return domains, nil
}

// TenantForDomain returns the tenant that owns domain, or "" if none does.
func (r *tenantRepo) TenantForDomain(ctx context.Context, domain string) (string, error) {
	var tenantID string
	err := r.db.GetContext(ctx, &tenantID,
		r.db.Rebind(`SELECT tenant_id FROM tenant_domains WHERE domain = ?`), normalizeDomain(domain))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying tenant for domain: %w", err)
	}
	return tenantID, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
