package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// ivrMenuRepo implements IVRMenuRepository.
type ivrMenuRepo struct {
	db *DB
}

// NewIVRMenuRepository creates a new IVRMenuRepository.
func NewIVRMenuRepository(db *DB) IVRMenuRepository {
	return &ivrMenuRepo{db: db}
}

// Create inserts a new IVR menu.
func (r *ivrMenuRepo) Create(ctx context.Context, ivr *models.IVRMenu) error {
	if ivr.Tenant == "" {
		return ErrTenantRequired
	}
	now := time.Now().UTC()
	ivr.CreatedAt, ivr.UpdatedAt = now, now

	err := r.db.GetContext(ctx, &ivr.ID, r.db.Rebind(
		`INSERT INTO ivr_menus (tenant_id, name, greeting_ref, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		ivr.Tenant, ivr.Name, ivr.GreetingRef, ivr.Enabled, ivr.CreatedAt, ivr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting ivr menu: %w", err)
	}
	return nil
}

// GetByName returns a tenant's IVR menu by name, or nil if not found.
func (r *ivrMenuRepo) GetByName(ctx context.Context, tenant, name string) (*models.IVRMenu, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var ivr models.IVRMenu
	err := r.db.GetContext(ctx, &ivr, r.db.Rebind(
		`SELECT id, tenant_id, name, greeting_ref, enabled, created_at, updated_at
		 FROM ivr_menus WHERE tenant_id = ? AND name = ?`), tenant, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ivr menu by name: %w", err)
	}
	return &ivr, nil
}

// List returns a tenant's IVR menus ordered by name.
func (r *ivrMenuRepo) List(ctx context.Context, tenant string) ([]models.IVRMenu, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var menus []models.IVRMenu
	if err := r.db.SelectContext(ctx, &menus, r.db.Rebind(
		`SELECT id, tenant_id, name, greeting_ref, enabled, created_at, updated_at
		 FROM ivr_menus WHERE tenant_id = ? ORDER BY name`), tenant); err != nil {
		return nil, fmt.Errorf("querying ivr menus: %w", err)
	}
	return menus, nil
}

// Delete removes a tenant's IVR menu by ID and reports whether it existed.
func (r *ivrMenuRepo) Delete(ctx context.Context, tenant string, id int64) (bool, error) {
	if tenant == "" {
		return false, ErrTenantRequired
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM ivr_menus WHERE tenant_id = ? AND id = ?`), tenant, id)
	if err != nil {
		return false, fmt.Errorf("deleting ivr menu: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted ivr menus: %w", err)
	}
	return n > 0, nil
}
