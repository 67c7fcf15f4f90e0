// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/auth/authtest"
	"github.com/theranote/theranote/pkg/errutil"
)

func TestNewSessionIssuer(t *testing.T) {
	refresh := authtest.NewRefreshStore()
	identities := authtest.NewIdentityStore()
	key := []byte(testSigningKey)

	tests := []struct {
		name       string
		refresh    auth.RefreshTokenRepository
		identities auth.IdentityRepository
		key        []byte
		wantErr    string
	}{
		{name: "valid", refresh: refresh, identities: identities, key: key},
		{name: "nil refresh repo", identities: identities, key: key, wantErr: "refresh token repository is required"},
		{name: "nil identity repo", refresh: refresh, key: key, wantErr: "identity repository is required"},
		{name: "short key", refresh: refresh, identities: identities, key: []byte("short"), wantErr: "signing key is too short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, err := auth.NewSessionIssuer(tt.refresh, tt.identities, auth.SessionConfig{SigningKey: tt.key})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, issuer)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, issuer)
		})
	}
}

func TestSessionIssuer_AccessToken(t *testing.T) {
	f := newFixture(t)
	ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)

	t.Run("round trip", func(t *testing.T) {
		token, expiresAt, err := f.sessions.IssueAccessToken(ident)
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now().Add(auth.DefaultAccessTokenTTL), expiresAt)

		claims, err := f.sessions.VerifyAccessToken(token)
		require.NoError(t, err)
		id, err := claims.IdentityID()
		require.NoError(t, err)
		assert.Equal(t, ident.ID, id)
		assert.Equal(t, auth.RoleTherapist, claims.Role)
		assert.Equal(t, auth.DefaultTokenIssuer, claims.Issuer)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("each token has a unique id", func(t *testing.T) {
		a, _, err := f.sessions.IssueAccessToken(ident)
		require.NoError(t, err)
		b, _, err := f.sessions.IssueAccessToken(ident)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := f.sessions.IssueAccessToken(ident)
		require.NoError(t, err)
		f.clock.Advance(auth.DefaultAccessTokenTTL + time.Minute)
		defer f.clock.Advance(-(auth.DefaultAccessTokenTTL + time.Minute))

		_, err = f.sessions.VerifyAccessToken(token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		errutil.AssertErrorContext(t, err, "reason", "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := auth.NewSessionIssuer(f.refresh, f.identities, auth.SessionConfig{
			SigningKey: []byte("ffffffffffffffffffffffffffffffff"),
			Now:        f.clock.Now,
		})
		require.NoError(t, err)
		token, _, err := other.IssueAccessToken(ident)
		require.NoError(t, err)

		_, err = f.sessions.VerifyAccessToken(token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		errutil.AssertErrorContext(t, err, "reason", "invalid")
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := auth.NewSessionIssuer(f.refresh, f.identities, auth.SessionConfig{
			SigningKey: []byte(testSigningKey),
			Issuer:     "someone-else",
			Now:        f.clock.Now,
		})
		require.NoError(t, err)
		token, _, err := other.IssueAccessToken(ident)
		require.NoError(t, err)

		_, err = f.sessions.VerifyAccessToken(token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("alg none rejected", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   ident.ID.String(),
			Issuer:    auth.DefaultTokenIssuer,
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = f.sessions.VerifyAccessToken(token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("HS512 rejected", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   ident.ID.String(),
			Issuer:    auth.DefaultTokenIssuer,
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSigningKey))
		require.NoError(t, err)

		_, err = f.sessions.VerifyAccessToken(token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("missing expiry rejected", func(t *testing.T) {
		claims := jwt.RegisteredClaims{Subject: ident.ID.String(), Issuer: auth.DefaultTokenIssuer}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
		require.NoError(t, err)

		_, err = f.sessions.VerifyAccessToken(token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.sessions.VerifyAccessToken("not.a.jwt")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})
}

func TestSessionIssuer_Refresh(t *testing.T) {
	t.Run("rotates the presented token", func(t *testing.T) {
		f := newFixture(t)
		ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)
		pair, err := f.sessions.IssuePair(bg, ident, "ua", "ip")
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now().Add(auth.DefaultRefreshTokenTTL), pair.RefreshExpiresAt)

		next, got, err := f.sessions.Refresh(bg, pair.RefreshToken, "ua", "ip")
		require.NoError(t, err)
		assert.Equal(t, ident.ID, got.ID)
		assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
		assert.Equal(t, 1, f.refresh.Active(ident.ID))

		_, _, err = f.sessions.Refresh(bg, pair.RefreshToken, "ua", "ip")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		errutil.AssertErrorContext(t, err, "reason", "revoked")
	})

	t.Run("concurrent rotation succeeds once", func(t *testing.T) {
		f := newFixture(t)
		ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)
		pair, err := f.sessions.IssuePair(bg, ident, "", "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := f.sessions.Refresh(bg, pair.RefreshToken, "", ""); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, f.refresh.Active(ident.ID))
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)
		pair, err := f.sessions.IssuePair(bg, ident, "", "")
		require.NoError(t, err)
		f.clock.Advance(auth.DefaultRefreshTokenTTL + time.Second)

		_, _, err = f.sessions.Refresh(bg, pair.RefreshToken, "", "")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		errutil.AssertErrorContext(t, err, "reason", "expired")
	})

	t.Run("unknown and empty tokens", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.sessions.Refresh(bg, "unknown", "", "")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
		_, _, err = f.sessions.Refresh(bg, "", "", "")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("suspended identity", func(t *testing.T) {
		f := newFixture(t)
		ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)
		pair, err := f.sessions.IssuePair(bg, ident, "", "")
		require.NoError(t, err)
		require.NoError(t, f.identities.UpdateStatus(bg, ident.ID, auth.StatusPending))

		_, _, err = f.sessions.Refresh(bg, pair.RefreshToken, "", "")
		errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
	})

	t.Run("repository failure", func(t *testing.T) {
		f := newFixture(t)
		f.refresh.Err = errors.New("db down")
		_, _, err := f.sessions.Refresh(bg, "anything", "", "")
		errutil.AssertErrorCode(t, err, "SESSION_VALIDATE_FAILED")
	})
}

func TestSessionIssuer_Revoke(t *testing.T) {
	f := newFixture(t)
	ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)
	first, err := f.sessions.IssuePair(bg, ident, "", "")
	require.NoError(t, err)
	second, err := f.sessions.IssuePair(bg, ident, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.refresh.Active(ident.ID))

	id, err := f.sessions.Revoke(bg, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, id)
	assert.Equal(t, 1, f.refresh.Active(ident.ID))

	_, err = f.sessions.Revoke(bg, first.RefreshToken)
	errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)

	require.NoError(t, f.sessions.RevokeAll(bg, ident.ID))
	assert.Zero(t, f.refresh.Active(ident.ID))

	_, _, err = f.sessions.Refresh(bg, second.RefreshToken, "", "")
	errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
}

func TestNewRefreshToken(t *testing.T) {
	_, err := auth.NewRefreshToken(ulid.ULID{}, "hash", "", "", testEpoch.Add(time.Hour), testEpoch)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_IDENTITY")

	_, err = auth.NewRefreshToken(ulid.Make(), "", "", "", testEpoch.Add(time.Hour), testEpoch)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_HASH")

	_, err = auth.NewRefreshToken(ulid.Make(), "hash", "", "", time.Time{}, testEpoch)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_EXPIRY")

	tok, err := auth.NewRefreshToken(ulid.Make(), "hash", "ua", "ip", testEpoch.Add(time.Hour), testEpoch)
	require.NoError(t, err)
	assert.False(t, tok.IsExpiredAt(testEpoch.Add(time.Hour)))
	assert.True(t, tok.IsExpiredAt(testEpoch.Add(time.Hour+time.Nanosecond)))
}
