// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Status is the verification state of an identity.
type Status string

// Identity statuses.
const (
	StatusUnverified Status = "unverified"
	StatusActive     Status = "active"
	StatusPending    Status = "pending"
)

// Role is the authorization role embedded in access tokens.
type Role string

// Roles.
const (
	RoleTherapist Role = "therapist"
	RoleClient    Role = "client"
	RoleAdmin     Role = "admin"
)

// LicenseStatus records the outcome of professional license verification.
type LicenseStatus string

// License statuses.
const (
	LicenseVerified      LicenseStatus = "verified"
	LicensePendingReview LicenseStatus = "pending_review"
	LicenseUnverified    LicenseStatus = "unverified"
)

// License is the professional license attached to an identity.
type License struct {
	Number string
	State  string
	Type   string
	Status LicenseStatus
}

// Identity represents a registered account.
type Identity struct {
	ID                 ulid.ULID
	Email              string
	PasswordHash       string
	Role               Role
	GivenName          string
	FamilyName         string
	License            License
	Status             Status
	MustChangePassword bool
	PasswordChangedAt  time.Time
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DisplayName returns the name used in emails.
func (i *Identity) DisplayName() string {
	return strings.TrimSpace(i.GivenName + " " + i.FamilyName)
}

// IsActive returns true once the email address has been verified.
func (i *Identity) IsActive() bool {
	return i.Status == StatusActive
}

// PasswordExpired reports whether the password is older than maxAge.
// A zero maxAge disables expiry.
func (i *Identity) PasswordExpired(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 || i.PasswordChangedAt.IsZero() {
		return false
	}
	return now.Sub(i.PasswordChangedAt) > maxAge
}

// NormalizeEmail trims and lower-cases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewIdentity creates an unverified identity with a fresh ID.
func NewIdentity(email, passwordHash string, role Role, now time.Time) (*Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code("IDENTITY_INVALID").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("IDENTITY_INVALID").Errorf("password hash cannot be empty")
	}
	if role == "" {
		role = RoleTherapist
	}
	return &Identity{
		ID:                ulid.Make(),
		Email:             email,
		PasswordHash:      passwordHash,
		Role:              role,
		License:           License{Status: LicenseUnverified},
		Status:            StatusUnverified,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create stores a new identity together with its first password-history
	// entry. Returns ErrDuplicateEmail or ErrDuplicateLicense when a unique
	// constraint rejects the row.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByEmail retrieves an identity by email (case-insensitive).
	// Returns ErrNotFound if no identity has the given email.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// ExistsByLicense reports whether a license number is registered in a state.
	ExistsByLicense(ctx context.Context, number, state string) (bool, error)

	// UpdateStatus moves an identity to a new status.
	UpdateStatus(ctx context.Context, id ulid.ULID, status Status) error

	// SetPassword replaces the password hash, clears MustChangePassword,
	// appends the hash to the password history and trims the history to
	// keep entries, all in one transaction.
	SetPassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time, keep int) error

	// UpgradePasswordHash replaces the hash for the same password without
	// touching history or PasswordChangedAt.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error
}
