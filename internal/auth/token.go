// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenBytes is the entropy of opaque tokens: 32 bytes = 64 hex chars.
const TokenBytes = 32

// TokenPurpose distinguishes single-use token flows.
type TokenPurpose string

// Token purposes.
const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// TTL returns the default lifetime for tokens of this purpose.
func (p TokenPurpose) TTL() time.Duration {
	switch p {
	case PurposeEmailVerification:
		return 24 * time.Hour
	case PurposePasswordReset:
		return time.Hour
	default:
		return 0
	}
}

// VerificationToken is a stored single-use token. Only the SHA-256 hash of
// the plaintext is persisted.
type VerificationToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	Purpose    TokenPurpose
	TokenHash  string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// IsExpiredAt returns true once now is past the expiry.
func (t *VerificationToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsed returns true once the token has been redeemed.
func (t *VerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// NewVerificationToken validates and builds a token record.
func NewVerificationToken(identityID ulid.ULID, purpose TokenPurpose, tokenHash string, expiresAt, now time.Time) (*VerificationToken, error) {
	if identityID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID").Errorf("identity id cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID").Errorf("token hash cannot be empty")
	}
	if purpose.TTL() == 0 {
		return nil, oops.Code("TOKEN_INVALID").With("purpose", string(purpose)).Errorf("unknown token purpose")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("TOKEN_INVALID").Errorf("expiry must be in the future")
	}
	return &VerificationToken{
		ID:         ulid.Make(),
		IdentityID: identityID,
		Purpose:    purpose,
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}, nil
}

// GenerateOpaqueToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the user; the hash is stored in the database.
func GenerateOpaqueToken() (token, hash string, err error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(tokenBytes)
	return token, HashOpaqueToken(token), nil
}

// HashOpaqueToken computes the SHA-256 hex digest of a token.
func HashOpaqueToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyOpaqueToken checks a plaintext token against a stored hash in constant time.
func VerifyOpaqueToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashOpaqueToken(token)), []byte(hash)) == 1
}

// TokenRepository manages single-use token persistence.
type TokenRepository interface {
	// Replace stores a new token and invalidates every unused token of the
	// same identity and purpose in one transaction.
	Replace(ctx context.Context, token *VerificationToken) error

	// GetByHash retrieves a token without consuming it.
	// Returns ErrNotFound if no token matches.
	GetByHash(ctx context.Context, tokenHash string, purpose TokenPurpose) (*VerificationToken, error)

	// Consume locks the matching token row, passes it to check and, when
	// check returns nil, sets UsedAt to usedAt before committing. Errors from
	// check are returned unchanged. Returns ErrNotFound if no token matches.
	Consume(ctx context.Context, tokenHash string, purpose TokenPurpose, usedAt time.Time,
		check func(*VerificationToken) error) (*VerificationToken, error)

	// DeleteExpired removes tokens that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenIssuer issues and redeems single-use tokens for one purpose.
type TokenIssuer struct {
	repo    TokenRepository
	purpose TokenPurpose
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenIssuer creates an issuer. A zero ttl uses the purpose default.
func NewTokenIssuer(repo TokenRepository, purpose TokenPurpose, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if repo == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if purpose.TTL() == 0 {
		return nil, oops.With("purpose", string(purpose)).Errorf("unknown token purpose")
	}
	if ttl <= 0 {
		ttl = purpose.TTL()
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{repo: repo, purpose: purpose, ttl: ttl, now: now}, nil
}

// Purpose returns the purpose this issuer serves.
func (i *TokenIssuer) Purpose() TokenPurpose { return i.purpose }

// Issue creates a token for an identity, invalidating prior unused ones.
// Returns the plaintext token and the stored record.
func (i *TokenIssuer) Issue(ctx context.Context, identityID ulid.ULID) (string, *VerificationToken, error) {
	plaintext, hash, err := GenerateOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	now := i.now()
	record, err := NewVerificationToken(identityID, i.purpose, hash, now.Add(i.ttl), now)
	if err != nil {
		return "", nil, err
	}
	if err := i.repo.Replace(ctx, record); err != nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("identity_id", identityID.String()).
			With("purpose", string(i.purpose)).
			Wrap(err)
	}
	return plaintext, record, nil
}

// Redeem consumes a token and returns its identity.
// Expiry and used state are evaluated together under the row lock; every
// failure carries the same public message.
func (i *TokenIssuer) Redeem(ctx context.Context, plaintext string) (ulid.ULID, error) {
	if plaintext == "" {
		return ulid.ULID{}, oops.Code(CodeTokenNotFound).Public(MsgInvalidToken).Errorf("token is empty")
	}
	now := i.now()
	record, err := i.repo.Consume(ctx, HashOpaqueToken(plaintext), i.purpose, now, func(t *VerificationToken) error {
		return classifyToken(t, now)
	})
	if err != nil {
		if isNotFound(err) {
			return ulid.ULID{}, oops.Code(CodeTokenNotFound).
				With("purpose", string(i.purpose)).
				Public(MsgInvalidToken).
				Errorf("token not found")
		}
		if KindOf(err) == KindInvalidToken {
			return ulid.ULID{}, err
		}
		return ulid.ULID{}, oops.Code("TOKEN_REDEEM_FAILED").
			With("purpose", string(i.purpose)).
			Wrap(err)
	}
	return record.IdentityID, nil
}

// Peek validates a token without consuming it and returns its identity.
func (i *TokenIssuer) Peek(ctx context.Context, plaintext string) (ulid.ULID, error) {
	if plaintext == "" {
		return ulid.ULID{}, oops.Code(CodeTokenNotFound).Public(MsgInvalidToken).Errorf("token is empty")
	}
	record, err := i.repo.GetByHash(ctx, HashOpaqueToken(plaintext), i.purpose)
	if err != nil {
		if isNotFound(err) {
			return ulid.ULID{}, oops.Code(CodeTokenNotFound).
				With("purpose", string(i.purpose)).
				Public(MsgInvalidToken).
				Errorf("token not found")
		}
		return ulid.ULID{}, oops.Code("TOKEN_LOOKUP_FAILED").
			With("purpose", string(i.purpose)).
			Wrap(err)
	}
	if err := classifyToken(record, i.now()); err != nil {
		return ulid.ULID{}, err
	}
	return record.IdentityID, nil
}

// classifyToken computes both failure conditions before branching.
// Expiry takes precedence over prior use.
func classifyToken(t *VerificationToken, now time.Time) error {
	expired := t.IsExpiredAt(now)
	used := t.IsUsed()
	switch {
	case expired:
		return oops.Code(CodeTokenExpired).
			With("token_id", t.ID.String()).
			Public(MsgInvalidToken).
			Errorf("token has expired")
	case used:
		return oops.Code(CodeTokenAlreadyUsed).
			With("token_id", t.ID.String()).
			Public(MsgInvalidToken).
			Errorf("token has already been used")
	default:
		return nil
	}
}
