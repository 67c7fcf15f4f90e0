// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
)

var _ auth.AuditRepository = (*AuditRepository)(nil)

// AuditRepository appends rows to auth_audit_log.
type AuditRepository struct {
	db DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends one audit entry.
func (r *AuditRepository) Insert(ctx context.Context, entry *auth.AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO auth_audit_log (id, event, outcome, reason, identity_id, email_mask, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.ID.String(),
		string(entry.Event),
		string(entry.Outcome),
		entry.Reason,
		ulidToStringPtr(entry.IdentityID),
		entry.EmailMask,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	)
	if err != nil {
		return oops.Code("AUDIT_INSERT_FAILED").
			With("event", string(entry.Event)).
			Wrap(err)
	}
	return nil
}
