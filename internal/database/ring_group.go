package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// ringGroupRepo implements RingGroupRepository.
type ringGroupRepo struct {
	db *DB
}

// NewRingGroupRepository creates a new RingGroupRepository.
func NewRingGroupRepository(db *DB) RingGroupRepository {
	return &ringGroupRepo{db: db}
}

// Create inserts a new ring group.
func (r *ringGroupRepo) Create(ctx context.Context, rg *models.RingGroup) error {
	if rg.Tenant == "" {
		return ErrTenantRequired
	}
	if rg.Strategy == "" {
		rg.Strategy = "ring_all"
	}
	if rg.Members == "" {
		rg.Members = "[]"
	}
	now := time.Now().UTC()
	rg.CreatedAt, rg.UpdatedAt = now, now

	err := r.db.GetContext(ctx, &rg.ID, r.db.Rebind(
		`INSERT INTO ring_groups (tenant_id, name, strategy, members, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		rg.Tenant, rg.Name, rg.Strategy, rg.Members, rg.Enabled, rg.CreatedAt, rg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting ring group: %w", err)
	}
	return nil
}

// GetByName returns a tenant's ring group by name, or nil if not found.
func (r *ringGroupRepo) GetByName(ctx context.Context, tenant, name string) (*models.RingGroup, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var rg models.RingGroup
	err := r.db.GetContext(ctx, &rg, r.db.Rebind(
		`SELECT id, tenant_id, name, strategy, members, enabled, created_at, updated_at
		 FROM ring_groups WHERE tenant_id = ? AND name = ?`), tenant, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ring group by name: %w", err)
	}
	return &rg, nil
}

// List returns a tenant's ring groups ordered by name.
func (r *ringGroupRepo) List(ctx context.Context, tenant string) ([]models.RingGroup, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var groups []models.RingGroup
	if err := r.db.SelectContext(ctx, &groups, r.db.Rebind(
		`SELECT id, tenant_id, name, strategy, members, enabled, created_at, updated_at
		 FROM ring_groups WHERE tenant_id = ? ORDER BY name`), tenant); err != nil {
		return nil, fmt.Errorf("querying ring groups: %w", err)
	}
	return groups, nil
}

// Delete removes a tenant's ring group by ID and reports whether it existed.
func (r *ringGroupRepo) Delete(ctx context.Context, tenant string, id int64) (bool, error) {
	if tenant == "" {
		return false, ErrTenantRequired
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM ring_groups WHERE tenant_id = ? AND id = ?`), tenant, id)
	if err != nil {
		return false, fmt.Errorf("deleting ring group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted ring groups: %w", err)
	}
	return n > 0, nil
}
