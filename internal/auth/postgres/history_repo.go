// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
)

var _ auth.PasswordHistoryRepository = (*PasswordHistoryRepository)(nil)

// PasswordHistoryRepository reads the password_history table. Rows are
// written by IdentityRepository.
type PasswordHistoryRepository struct {
	db DB
}

// NewPasswordHistoryRepository creates a new PasswordHistoryRepository.
func NewPasswordHistoryRepository(db DB) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{db: db}
}

// ListRecent returns up to limit entries, newest first.
func (r *PasswordHistoryRepository) ListRecent(ctx context.Context, identityID ulid.ULID, limit int) ([]auth.PasswordHistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, identity_id, password_hash, created_at
		FROM password_history
		WHERE identity_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, identityID.String(), limit)
	if err != nil {
		return nil, oops.Code("PASSWORD_HISTORY_QUERY_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var entries []auth.PasswordHistoryEntry
	for rows.Next() {
		var (
			idStr, identityStr string
			entry              auth.PasswordHistoryEntry
		)
		if err := rows.Scan(&idStr, &identityStr, &entry.PasswordHash, &entry.CreatedAt); err != nil {
			return nil, oops.Code("PASSWORD_HISTORY_SCAN_FAILED").Wrap(err)
		}
		if entry.ID, err = parseULID(idStr, "history_id"); err != nil {
			return nil, err
		}
		if entry.IdentityID, err = parseULID(identityStr, "identity_id"); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PASSWORD_HISTORY_QUERY_FAILED").
			With("operation", "iterate history rows").
			Wrap(err)
	}
	return entries, nil
}
