package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// voicemailBoxRepo implements VoicemailBoxRepository.
type voicemailBoxRepo struct {
	db *DB
}

// NewVoicemailBoxRepository creates a new VoicemailBoxRepository.
func NewVoicemailBoxRepository(db *DB) VoicemailBoxRepository {
	return &voicemailBoxRepo{db: db}
}

// Create inserts a new voicemail box.
func (r *voicemailBoxRepo) Create(ctx context.Context, box *models.VoicemailBox) error {
	if box.Tenant == "" {
		return ErrTenantRequired
	}
	now := time.Now().UTC()
	box.CreatedAt, box.UpdatedAt = now, now

	err := r.db.GetContext(ctx, &box.ID, r.db.Rebind(
		`INSERT INTO voicemail_boxes (tenant_id, mailbox_number, name, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		box.Tenant, box.MailboxNumber, box.Name, box.Enabled, box.CreatedAt, box.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting voicemail box: %w", err)
	}
	return nil
}

// GetByMailbox returns a tenant's voicemail box by mailbox number, or nil if not found.
func (r *voicemailBoxRepo) GetByMailbox(ctx context.Context, tenant, mailbox string) (*models.VoicemailBox, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var box models.VoicemailBox
	err := r.db.GetContext(ctx, &box, r.db.Rebind(
		`SELECT id, tenant_id, mailbox_number, name, enabled, created_at, updated_at
		 FROM voicemail_boxes WHERE tenant_id = ? AND mailbox_number = ?`), tenant, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying voicemail box by mailbox: %w", err)
	}
	return &box, nil
}

// List returns a tenant's voicemail boxes ordered by mailbox number.
func (r *voicemailBoxRepo) List(ctx context.Context, tenant string) ([]models.VoicemailBox, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	var boxes []models.VoicemailBox
	if err := r.db.SelectContext(ctx, &boxes, r.db.Rebind(
		`SELECT id, tenant_id, mailbox_number, name, enabled, created_at, updated_at
		 FROM voicemail_boxes WHERE tenant_id = ? ORDER BY mailbox_number`), tenant); err != nil {
		return nil, fmt.Errorf("querying voicemail boxes: %w", err)
	}
	return boxes, nil
}

// Delete removes a tenant's voicemail box by ID and reports whether it existed.
func (r *voicemailBoxRepo) Delete(ctx context.Context, tenant string, id int64) (bool, error) {
	if tenant == "" {
		return false, ErrTenantRequired
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM voicemail_boxes WHERE tenant_id = ? AND id = ?`), tenant, id)
	if err != nil {
		return false, fmt.Errorf("deleting voicemail box: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted voicemail boxes: %w", err)
	}
	return n > 0, nil
}
