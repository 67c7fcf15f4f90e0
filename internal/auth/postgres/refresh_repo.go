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

var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, identity_id, token_hash, user_agent, ip_address, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		token.ID.String(),
		token.IdentityID.String(),
		token.TokenHash,
		token.UserAgent,
		token.IPAddress,
		token.ExpiresAt,
		token.Revoked,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_TOKEN_CREATE_FAILED").
			With("identity_id", token.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a refresh token by its hash.
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, identity_id, token_hash, user_agent, ip_address, expires_at, revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	var (
		idStr, identityStr string
		token              auth.RefreshToken
	)
	err := row.Scan(&idStr, &identityStr, &token.TokenHash, &token.UserAgent, &token.IPAddress,
		&token.ExpiresAt, &token.Revoked, &token.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").Wrap(err)
	}
	if token.ID, err = parseULID(idStr, "refresh_token_id"); err != nil {
		return nil, err
	}
	if token.IdentityID, err = parseULID(identityStr, "identity_id"); err != nil {
		return nil, err
	}
	return &token, nil
}

// Revoke marks an active token revoked. The revoked = false predicate makes
// the update a compare-and-set: a second caller affects no rows.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE id = $1 AND revoked = false
	`, id.String())
	if err != nil {
		return oops.Code("REFRESH_TOKEN_REVOKE_FAILED").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// RevokeAllForIdentity revokes every active token of an identity.
func (r *RefreshTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID ulid.ULID) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE identity_id = $1 AND revoked = false
	`, identityID.String())
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired before the given time.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}
