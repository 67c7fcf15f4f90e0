// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultAccessTokenTTL  = 8 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultTokenIssuer     = "theranote"
	MinSigningKeyBytes     = 32
)

// AccessClaims are the claims embedded in an access token.
type AccessClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// IdentityID parses the subject claim.
func (c *AccessClaims) IdentityID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Wrap(err)
	}
	return id, nil
}

// RefreshToken is a persisted, revocable refresh credential.
type RefreshToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	TokenHash  string
	UserAgent  string
	IPAddress  string
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// NewRefreshToken creates a validated RefreshToken.
// UserAgent and IPAddress are optional and may be empty.
func NewRefreshToken(identityID ulid.ULID, tokenHash, userAgent, ipAddress string, expiresAt, now time.Time) (*RefreshToken, error) {
	if identityID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_IDENTITY").Errorf("identity ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &RefreshToken{
		ID:         ulid.Make(),
		IdentityID: identityID,
		TokenHash:  tokenHash,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}, nil
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a refresh token by its hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Revoke marks a token revoked. Returns ErrNotFound when the token does
	// not exist or was already revoked, so concurrent rotations of the same
	// token cannot both succeed.
	Revoke(ctx context.Context, id ulid.ULID) error

	// RevokeAllForIdentity revokes every active token of an identity.
	RevokeAllForIdentity(ctx context.Context, identityID ulid.ULID) (int64, error)

	// DeleteExpired removes tokens that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenPair is the credential set returned to a client after authentication.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionConfig configures a SessionIssuer.
type SessionConfig struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// SessionIssuer issues signed access tokens and persisted refresh tokens.
type SessionIssuer struct {
	refresh    RefreshTokenRepository
	identities IdentityRepository
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionIssuer creates a SessionIssuer. The signing key must be at
// least MinSigningKeyBytes long.
func NewSessionIssuer(refresh RefreshTokenRepository, identities IdentityRepository, cfg SessionConfig) (*SessionIssuer, error) {
	if refresh == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if len(cfg.SigningKey) < MinSigningKeyBytes {
		return nil, oops.With("min_bytes", MinSigningKeyBytes).Errorf("signing key is too short")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)
	return &SessionIssuer{
		refresh:    refresh,
		identities: identities,
		key:        key,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

// IssueAccessToken signs an HS256 token binding the identity id and role.
func (s *SessionIssuer) IssueAccessToken(identity *Identity) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	claims := AccessClaims{
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   identity.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, algorithm, issuer and expiry.
func (s *SessionIssuer) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, oops.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeSessionInvalid).With("reason", "expired").Errorf("access token expired")
		}
		return nil, oops.Code(CodeSessionInvalid).With("reason", "invalid").Errorf("invalid access token")
	}
	return claims, nil
}

// IssueRefreshToken creates and persists an opaque refresh token.
func (s *SessionIssuer) IssueRefreshToken(ctx context.Context, identityID ulid.ULID, userAgent, ipAddress string) (string, *RefreshToken, error) {
	plaintext, hash, err := GenerateOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now()
	record, err := NewRefreshToken(identityID, hash, userAgent, ipAddress, now.Add(s.refreshTTL), now)
	if err != nil {
		return "", nil, err
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return "", nil, oops.Code("SESSION_CREATE_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return plaintext, record, nil
}

// IssuePair issues an access token and a refresh token for an identity.
func (s *SessionIssuer) IssuePair(ctx context.Context, identity *Identity, userAgent, ipAddress string) (*TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(identity)
	if err != nil {
		return nil, err
	}
	refresh, record, err := s.IssueRefreshToken(ctx, identity.ID, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. Unknown, revoked and expired tokens all fail with
// SESSION_INVALID.
func (s *SessionIssuer) Refresh(ctx context.Context, plaintext, userAgent, ipAddress string) (*TokenPair, *Identity, error) {
	record, err := s.lookupActive(ctx, plaintext)
	if err != nil {
		return nil, nil, err
	}
	if err := s.refresh.Revoke(ctx, record.ID); err != nil {
		if isNotFound(err) {
			return nil, nil, oops.Code(CodeSessionInvalid).Errorf("refresh token already rotated")
		}
		return nil, nil, oops.Code("SESSION_REFRESH_FAILED").
			With("operation", "revoke presented token").
			Wrap(err)
	}

	identity, err := s.identities.GetByID(ctx, record.IdentityID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, oops.Code(CodeSessionInvalid).Errorf("identity no longer exists")
		}
		return nil, nil, oops.Code("SESSION_REFRESH_FAILED").
			With("operation", "get identity").
			Wrap(err)
	}
	if identity.Status == StatusPending {
		return nil, nil, oops.Code(CodeSessionInvalid).Errorf("identity is suspended")
	}

	pair, err := s.IssuePair(ctx, identity, userAgent, ipAddress)
	if err != nil {
		return nil, nil, err
	}
	return pair, identity, nil
}

// Revoke revokes a single refresh token. Already-issued access tokens stay
// valid until they expire.
func (s *SessionIssuer) Revoke(ctx context.Context, plaintext string) (ulid.ULID, error) {
	record, err := s.lookupActive(ctx, plaintext)
	if err != nil {
		return ulid.ULID{}, err
	}
	if err := s.refresh.Revoke(ctx, record.ID); err != nil {
		if isNotFound(err) {
			return ulid.ULID{}, oops.Code(CodeSessionInvalid).Errorf("refresh token already revoked")
		}
		return ulid.ULID{}, oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}
	return record.IdentityID, nil
}

// RevokeAll revokes every refresh token of an identity.
func (s *SessionIssuer) RevokeAll(ctx context.Context, identityID ulid.ULID) error {
	if _, err := s.refresh.RevokeAllForIdentity(ctx, identityID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

func (s *SessionIssuer) lookupActive(ctx context.Context, plaintext string) (*RefreshToken, error) {
	if plaintext == "" {
		return nil, oops.Code(CodeSessionInvalid).Errorf("refresh token cannot be empty")
	}
	record, err := s.refresh.GetByTokenHash(ctx, HashOpaqueToken(plaintext))
	if err != nil {
		if isNotFound(err) {
			return nil, oops.Code(CodeSessionInvalid).Errorf("invalid refresh token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	if record.Revoked {
		return nil, oops.Code(CodeSessionInvalid).With("reason", "revoked").Errorf("refresh token revoked")
	}
	if record.IsExpiredAt(s.now()) {
		return nil, oops.Code(CodeSessionInvalid).With("reason", "expired").Errorf("refresh token expired")
	}
	return record, nil
}
