// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
)

// Unique constraints on the identities table.
const (
	constraintEmail   = "identities_email_key"
	constraintLicense = "identities_license_key"
)

const identityColumns = `id, email, password_hash, role, given_name, family_name,
	COALESCE(license_number, ''), COALESCE(license_state, ''), license_type, license_status,
	status, must_change_password, password_changed_at, last_login_at, created_at, updated_at`

var _ auth.IdentityRepository = (*IdentityRepository)(nil)

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create inserts the identity and its first password-history row.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO identities (
				id, email, password_hash, role, given_name, family_name,
				license_number, license_state, license_type, license_status,
				status, must_change_password, password_changed_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15)
		`,
			identity.ID.String(),
			identity.Email,
			identity.PasswordHash,
			string(identity.Role),
			identity.GivenName,
			identity.FamilyName,
			identity.License.Number,
			identity.License.State,
			identity.License.Type,
			string(identity.License.Status),
			string(identity.Status),
			identity.MustChangePassword,
			identity.PasswordChangedAt,
			identity.CreatedAt,
			identity.UpdatedAt,
		)
		if err != nil {
			switch uniqueViolation(err) {
			case constraintEmail:
				return auth.ErrDuplicateEmail
			case constraintLicense:
				return auth.ErrDuplicateLicense
			}
			return oops.Code("IDENTITY_CREATE_FAILED").
				With("operation", "insert identity").
				With("identity_id", identity.ID.String()).
				Wrap(err)
		}
		return insertHistory(ctx, tx, identity.ID, identity.PasswordHash, identity.PasswordChangedAt)
	})
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id.String())
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by id").
			With("identity_id", id.String()).
			Wrap(err)
	}
	return identity, nil
}

// GetByEmail retrieves an identity by email (case-insensitive).
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = LOWER($1)`, email)
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	return identity, nil
}

// ExistsByLicense reports whether a license number is registered in a state.
func (r *IdentityRepository) ExistsByLicense(ctx context.Context, number, state string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM identities WHERE license_number = $1 AND license_state = $2)
	`, number, state).Scan(&exists)
	if err != nil {
		return false, oops.Code("IDENTITY_LICENSE_CHECK_FAILED").
			With("license_state", state).
			Wrap(err)
	}
	return exists, nil
}

// UpdateStatus moves an identity to a new status.
func (r *IdentityRepository) UpdateStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	result, err := r.db.Exec(ctx, `
		UPDATE identities SET status = $2, updated_at = NOW() WHERE id = $1
	`, id.String(), string(status))
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "update status").
			With("identity_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// SetPassword replaces the hash, appends history and trims it to keep rows.
func (r *IdentityRepository) SetPassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time, keep int) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE identities
			SET password_hash = $2, password_changed_at = $3, must_change_password = false, updated_at = $3
			WHERE id = $1
		`, id.String(), passwordHash, changedAt)
		if err != nil {
			return oops.Code("IDENTITY_UPDATE_FAILED").
				With("operation", "set password").
				With("identity_id", id.String()).
				Wrap(err)
		}
		if result.RowsAffected() == 0 {
			return auth.ErrNotFound
		}
		if err := insertHistory(ctx, tx, id, passwordHash, changedAt); err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM password_history
			WHERE identity_id = $1 AND id NOT IN (
				SELECT id FROM password_history
				WHERE identity_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			)
		`, id.String(), keep)
		if err != nil {
			return oops.Code("IDENTITY_UPDATE_FAILED").
				With("operation", "trim password history").
				With("identity_id", id.String()).
				Wrap(err)
		}
		return nil
	})
}

// UpgradePasswordHash replaces the hash only.
func (r *IdentityRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE identities SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "upgrade password hash").
			With("identity_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// UpdateLastLogin records a successful login.
func (r *IdentityRepository) UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE identities SET last_login_at = $2 WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "update last login").
			With("identity_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, identityID ulid.ULID, passwordHash string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO password_history (id, identity_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, ulid.Make().String(), identityID.String(), passwordHash, at)
	if err != nil {
		return oops.Code("PASSWORD_HISTORY_INSERT_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

// scanIdentity scans a single row into an Identity.
// Callers are responsible for handling pgx.ErrNoRows.
func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		idStr         string
		role          string
		licenseStatus string
		status        string
		identity      auth.Identity
	)
	err := row.Scan(
		&idStr,
		&identity.Email,
		&identity.PasswordHash,
		&role,
		&identity.GivenName,
		&identity.FamilyName,
		&identity.License.Number,
		&identity.License.State,
		&identity.License.Type,
		&licenseStatus,
		&status,
		&identity.MustChangePassword,
		&identity.PasswordChangedAt,
		&identity.LastLoginAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := parseULID(idStr, "identity_id")
	if err != nil {
		return nil, err
	}
	identity.ID = id
	identity.Role = auth.Role(role)
	identity.License.Status = auth.LicenseStatus(licenseStatus)
	identity.Status = auth.Status(status)
	return &identity, nil
}
