// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/auth/authtest"
	"github.com/theranote/theranote/internal/auth/mocks"
)

const (
	strongPassword = "Str0ngP@ssw0rd!"
	testSigningKey = "0123456789abcdef0123456789abcdef"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock        *authtest.Clock
	identities   *authtest.IdentityStore
	failures     *authtest.FailureStore
	tokens       *authtest.TokenStore
	refresh      *authtest.RefreshStore
	audit        *authtest.AuditRecorder
	hasher       *authtest.FakeHasher
	mailer       *mocks.MockMailer
	policy       *auth.PolicyEngine
	lockout      *auth.LockoutTracker
	verification *auth.TokenIssuer
	resets       *auth.TokenIssuer
	sessions     *auth.SessionIssuer
	logs         *bytes.Buffer
	logger       *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:      authtest.NewClock(testEpoch),
		identities: authtest.NewIdentityStore(),
		failures:   authtest.NewFailureStore(),
		tokens:     authtest.NewTokenStore(),
		refresh:    authtest.NewRefreshStore(),
		audit:      &authtest.AuditRecorder{},
		hasher:     &authtest.FakeHasher{},
		mailer:     mocks.NewMockMailer(t),
		logs:       &bytes.Buffer{},
	}
	f.logger = slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var err error
	f.policy, err = auth.NewPolicyEngineWithLogger(f.hasher, f.identities, nil, auth.PolicyConfig{}, f.logger, nil)
	require.NoError(t, err)
	f.lockout, err = auth.NewLockoutTracker(f.failures, auth.LockoutConfig{Now: f.clock.Now})
	require.NoError(t, err)
	f.verification, err = auth.NewTokenIssuer(f.tokens, auth.PurposeEmailVerification, 0, f.clock.Now)
	require.NoError(t, err)
	f.resets, err = auth.NewTokenIssuer(f.tokens, auth.PurposePasswordReset, 0, f.clock.Now)
	require.NoError(t, err)
	f.sessions, err = auth.NewSessionIssuer(f.refresh, f.identities, auth.SessionConfig{
		SigningKey: []byte(testSigningKey),
		Now:        f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) registration(t *testing.T, opts ...func(*auth.RegistrationDeps)) *auth.RegistrationService {
	t.Helper()
	deps := auth.RegistrationDeps{
		Identities:   f.identities,
		Hasher:       f.hasher,
		Policy:       f.policy,
		Verification: f.verification,
		Mailer:       f.mailer,
		Audit:        f.audit,
		Floor:        auth.NewLatencyFloor(0),
		Logger:       f.logger,
		Now:          f.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := auth.NewRegistrationService(deps)
	require.NoError(t, err)
	return svc
}

func (f *fixture) login(t *testing.T, opts ...func(*auth.LoginDeps)) *auth.LoginService {
	t.Helper()
	deps := auth.LoginDeps{
		Identities: f.identities,
		Hasher:     f.hasher,
		Lockout:    f.lockout,
		Sessions:   f.sessions,
		Audit:      f.audit,
		Floor:      auth.NewLatencyFloor(0),
		Logger:     f.logger,
		Now:        f.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := auth.NewLoginService(deps)
	require.NoError(t, err)
	return svc
}

func (f *fixture) passwordReset(t *testing.T) *auth.PasswordResetService {
	t.Helper()
	svc, err := auth.NewPasswordResetService(auth.PasswordResetDeps{
		Identities: f.identities,
		Hasher:     f.hasher,
		Policy:     f.policy,
		Resets:     f.resets,
		Lockout:    f.lockout,
		Sessions:   f.sessions,
		Mailer:     f.mailer,
		Audit:      f.audit,
		Floor:      auth.NewLatencyFloor(0),
		Logger:     f.logger,
		Now:        f.clock.Now,
	})
	require.NoError(t, err)
	return svc
}

// addIdentity stores an identity with the given password and status.
func (f *fixture) addIdentity(t *testing.T, email, password string, status auth.Status) *auth.Identity {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	ident, err := auth.NewIdentity(email, hash, auth.RoleTherapist, f.clock.Now())
	require.NoError(t, err)
	ident.GivenName = "Alice"
	ident.FamilyName = "Smith"
	ident.Status = status
	f.identities.Put(ident)
	return ident
}

// allowMail accepts any email without asserting on it.
func (f *fixture) allowMail() {
	f.mailer.On("SendVerificationEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.mailer.On("SendWelcomeEmail", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.mailer.On("SendPasswordResetEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

// captureVerificationToken records the token passed to SendVerificationEmail.
func (f *fixture) captureVerificationToken(tokens *[]string) {
	f.mailer.On("SendVerificationEmail", mock.Anything, mock.Anything, mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { *tokens = append(*tokens, args.String(3)) }).
		Return(nil)
}

// logEntries decodes the JSON log lines written so far.
func (f *fixture) logEntries(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

// findLog returns the first log entry whose operation attribute matches.
func (f *fixture) findLog(t *testing.T, operation string) map[string]any {
	t.Helper()
	for _, entry := range f.logEntries(t) {
		if entry["operation"] == operation {
			return entry
		}
	}
	return nil
}

func validRegistration() auth.RegistrationInput {
	return auth.RegistrationInput{
		Email:           "alice@example.com",
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
		GivenName:       "Alice",
		FamilyName:      "Smith",
		LicenseNumber:   "LPC-12345",
		LicenseState:    "TX",
		LicenseType:     "LPC",
		AcceptedTerms:   true,
	}
}

var testMeta = auth.RequestMeta{IPAddress: "203.0.113.7", UserAgent: "test-agent"}

var bg = context.Background()
