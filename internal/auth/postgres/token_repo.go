// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
)

var _ auth.TokenRepository = (*TokenRepository)(nil)

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Replace marks every unused token of the same identity and purpose as used
// and inserts the new one.
func (r *TokenRepository) Replace(ctx context.Context, token *auth.VerificationToken) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE verification_tokens SET used_at = $3
			WHERE identity_id = $1 AND purpose = $2 AND used_at IS NULL
		`, token.IdentityID.String(), string(token.Purpose), token.CreatedAt)
		if err != nil {
			return oops.Code("TOKEN_REPLACE_FAILED").
				With("operation", "invalidate previous tokens").
				With("identity_id", token.IdentityID.String()).
				Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO verification_tokens (id, identity_id, purpose, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			token.ID.String(),
			token.IdentityID.String(),
			string(token.Purpose),
			token.TokenHash,
			token.ExpiresAt,
			token.CreatedAt,
		)
		if err != nil {
			return oops.Code("TOKEN_REPLACE_FAILED").
				With("operation", "insert token").
				With("identity_id", token.IdentityID.String()).
				Wrap(err)
		}
		return nil
	})
}

// GetByHash retrieves a token without consuming it.
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string, purpose auth.TokenPurpose) (*auth.VerificationToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, identity_id, purpose, token_hash, expires_at, used_at, created_at
		FROM verification_tokens
		WHERE token_hash = $1 AND purpose = $2
	`, tokenHash, string(purpose))
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").With("purpose", string(purpose)).Wrap(err)
	}
	return token, nil
}

// Consume locks the token row with SELECT ... FOR UPDATE so concurrent
// redemptions of the same token serialize; only the first sees it unused.
func (r *TokenRepository) Consume(ctx context.Context, tokenHash string, purpose auth.TokenPurpose, usedAt time.Time,
	check func(*auth.VerificationToken) error,
) (*auth.VerificationToken, error) {
	var consumed *auth.VerificationToken
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, identity_id, purpose, token_hash, expires_at, used_at, created_at
			FROM verification_tokens
			WHERE token_hash = $1 AND purpose = $2
			FOR UPDATE
		`, tokenHash, string(purpose))
		token, err := scanToken(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrNotFound
		}
		if err != nil {
			return oops.Code("TOKEN_CONSUME_FAILED").With("operation", "lock token").Wrap(err)
		}
		if err := check(token); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE verification_tokens SET used_at = $2 WHERE id = $1`,
			token.ID.String(), usedAt); err != nil {
			return oops.Code("TOKEN_CONSUME_FAILED").With("operation", "mark used").Wrap(err)
		}
		token.UsedAt = &usedAt
		consumed = token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// DeleteExpired removes tokens that expired before the given time.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.VerificationToken, error) {
	var (
		idStr, identityStr, purpose string
		token                       auth.VerificationToken
	)
	err := row.Scan(&idStr, &identityStr, &purpose, &token.TokenHash, &token.ExpiresAt, &token.UsedAt, &token.CreatedAt)
	if err != nil {
		return nil, err
	}
	if token.ID, err = parseULID(idStr, "token_id"); err != nil {
		return nil, err
	}
	if token.IdentityID, err = parseULID(identityStr, "identity_id"); err != nil {
		return nil, err
	}
	token.Purpose = auth.TokenPurpose(purpose)
	return &token, nil
}
