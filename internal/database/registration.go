package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// registrationRepo implements RegistrationRepository.
type registrationRepo struct {
	db *DB
}

// NewRegistrationRepository creates a new RegistrationRepository.
func NewRegistrationRepository(db *DB) RegistrationRepository {
	return &registrationRepo{db: db}
}

// Upsert records a registration, replacing any earlier one from the same
// contact so a re-register refreshes its expiry.
func (r *registrationRepo) Upsert(ctx context.Context, reg *models.Registration) error {
	if reg.Tenant == "" {
		return ErrTenantRequired
	}
	reg.Domain = normalizeDomain(reg.Domain)
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(
			`DELETE FROM registrations
			 WHERE tenant_id = ? AND sip_user = ? AND domain = ? AND contact_uri = ?`),
			reg.Tenant, reg.User, reg.Domain, reg.ContactURI); err != nil {
			return fmt.Errorf("deleting previous registration: %w", err)
		}

		if err := tx.GetContext(ctx, &reg.ID, r.db.Rebind(
			`INSERT INTO registrations (tenant_id, sip_user, domain, contact_uri, user_agent, expires, registered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			reg.Tenant, reg.User, reg.Domain, reg.ContactURI, reg.UserAgent,
			reg.Expires.UTC(), reg.RegisteredAt,
		); err != nil {
			return fmt.Errorf("inserting registration: %w", err)
		}
		return nil
	})
}

// IsRegistered reports whether user has an unexpired registration. An empty
// domain matches a registration on any of the tenant's domains.
func (r *registrationRepo) IsRegistered(ctx context.Context, tenant, user, domain string) (bool, error) {
	if tenant == "" {
		return false, ErrTenantRequired
	}
	q := `SELECT COUNT(*) FROM registrations WHERE tenant_id = ? AND sip_user = ? AND expires > ?`
	args := []any{tenant, user, time.Now().UTC()}
	if domain != "" {
		q += ` AND domain = ?`
		args = append(args, normalizeDomain(domain))
	}

	var count int64
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(q), args...); err != nil {
		return false, fmt.Errorf("counting registrations: %w", err)
	}
	return count > 0, nil
}

// DeleteExpired removes all registrations whose expires time has passed.
// Returns the number of rows deleted.
func (r *registrationRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM registrations WHERE expires <= ?`), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired registrations: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored registrations across all tenants.
// Used for the metrics gauge only.
func (r *registrationRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM registrations`); err != nil {
		return 0, fmt.Errorf("counting registrations: %w", err)
	}
	return count, nil
}
