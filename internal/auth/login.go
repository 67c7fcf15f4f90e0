// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginInput is the credential pair presented at login.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Tokens                 TokenPair
	PasswordChangeRequired bool
	Identity               *Identity
}

// LoginDeps holds the collaborators of a LoginService.
type LoginDeps struct {
	Identities IdentityRepository
	Hasher     PasswordHasher
	Lockout    *LockoutTracker
	Sessions   *SessionIssuer
	Audit      AuditLogger
	// Floor defaults to DefaultMinResponseTime.
	Floor   *LatencyFloor
	Logger  *slog.Logger
	Metrics MetricsRecorder
	// MaxPasswordAge flags passwords older than this for change. Zero disables.
	MaxPasswordAge time.Duration
	// AllowUnverifiedLogin lets identities log in before verifying their email.
	AllowUnverifiedLogin bool
	Now                  func() time.Time
}

// LoginService authenticates identities and manages their sessions.
type LoginService struct {
	identities      IdentityRepository
	hasher          PasswordHasher
	lockout         *LockoutTracker
	sessions        *SessionIssuer
	audit           AuditLogger
	floor           *LatencyFloor
	logger          *slog.Logger
	metrics         MetricsRecorder
	maxPasswordAge  time.Duration
	allowUnverified bool
	now             func() time.Time
}

// NewLoginService validates deps and creates a LoginService.
func NewLoginService(deps LoginDeps) (*LoginService, error) {
	switch {
	case deps.Identities == nil:
		return nil, oops.Errorf("identity repository is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Lockout == nil:
		return nil, oops.Errorf("lockout tracker is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session issuer is required")
	case deps.Audit == nil:
		return nil, oops.Errorf("audit logger is required")
	}
	if deps.Floor == nil {
		deps.Floor = NewLatencyFloor(DefaultMinResponseTime)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &LoginService{
		identities:      deps.Identities,
		hasher:          deps.Hasher,
		lockout:         deps.Lockout,
		sessions:        deps.Sessions,
		audit:           deps.Audit,
		floor:           deps.Floor,
		logger:          deps.Logger,
		metrics:         metricsOrNoop(deps.Metrics),
		maxPasswordAge:  deps.MaxPasswordAge,
		allowUnverified: deps.AllowUnverifiedLogin,
		now:             deps.Now,
	}, nil
}

// Login authenticates an identity and issues access and refresh tokens.
// Unknown email and wrong password produce the same error, and every path
// is padded to the latency floor measured from the start of the call.
func (s *LoginService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (res *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	return Pad(ctx, s.floor, func(ctx context.Context) (*LoginResult, error) {
		res, identityID, err := s.login(ctx, in, meta)
		s.audit.Record(ctx, auditEntry(EventLogin, identityID, in.Email, meta, err))
		s.metrics.LoginAttempt(outcomeLabel(err))
		return res, err
	})
}

func (s *LoginService) login(ctx context.Context, in LoginInput, meta RequestMeta) (*LoginResult, *ulid.ULID, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		fields := map[string]string{}
		if email == "" {
			fields["email"] = "is required"
		}
		if in.Password == "" {
			fields["password"] = "is required"
		}
		return nil, nil, validationError(fields)
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			// Equalize timing with the wrong-password branch.
			s.hasher.Verify(in.Password, dummyPasswordHash)
			return nil, nil, invalidCredentials().
				Public(MsgInvalidCredentials).
				Errorf("invalid email or password")
		}
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	id := &identity.ID

	status, err := s.lockout.CheckStatus(ctx, identity.ID)
	if err != nil {
		return nil, id, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "check lockout").
			Wrap(err)
	}
	if status.Locked {
		return nil, id, lockedError(status)
	}

	if !s.hasher.Verify(in.Password, identity.PasswordHash) {
		return nil, id, s.recordFailure(ctx, identity.ID, meta)
	}

	if err := s.lockout.ClearFailures(context.WithoutCancel(ctx), identity.ID); err != nil {
		s.logger.WarnContext(ctx, "best-effort clear failures failed",
			"operation", "clear_failures",
			"identity_id", identity.ID.String(),
			"error", err)
	}

	if !identity.IsActive() && !(s.allowUnverified && identity.Status == StatusUnverified) {
		// Answer like a wrong password so the response does not confirm the
		// account or the password. The reason stays in the error context.
		return nil, id, invalidCredentials().
			With("reason", CodeEmailNotVerified).
			With("status", string(identity.Status)).
			Public(MsgInvalidCredentials).
			Errorf("identity is not active")
	}

	now := s.now()
	changeRequired := identity.MustChangePassword || identity.PasswordExpired(s.maxPasswordAge, now)

	if s.hasher.NeedsUpgrade(identity.PasswordHash) {
		s.upgradeHash(ctx, identity, in.Password)
	}

	pair, err := s.sessions.IssuePair(ctx, identity, meta.UserAgent, meta.IPAddress)
	if err != nil {
		return nil, id, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session").
			Wrap(err)
	}

	if err := s.identities.UpdateLastLogin(ctx, identity.ID, now); err != nil {
		s.logger.WarnContext(ctx, "best-effort last login update failed",
			"operation", "update_last_login",
			"identity_id", identity.ID.String(),
			"error", err)
	} else {
		identity.LastLoginAt = &now
	}

	return &LoginResult{
		Tokens:                 *pair,
		PasswordChangeRequired: changeRequired,
		Identity:               identity,
	}, id, nil
}

// recordFailure counts a wrong password. The failure that reaches the
// threshold reports the lock instead of remaining attempts.
func (s *LoginService) recordFailure(ctx context.Context, identityID ulid.ULID, meta RequestMeta) error {
	status, err := s.lockout.RecordFailure(context.WithoutCancel(ctx), identityID, meta.IPAddress, meta.UserAgent)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort failure recording failed",
			"operation", "record_failure",
			"identity_id", identityID.String(),
			"error", err)
		return invalidCredentials().
			Public(MsgInvalidCredentials).
			Errorf("invalid email or password")
	}
	if status.Locked {
		s.metrics.Lockout()
		return lockedError(status)
	}
	return invalidCredentials().
		With("remaining_attempts", status.RemainingAttempts).
		Public(MsgInvalidCredentials).
		Errorf("invalid email or password")
}

func (s *LoginService) upgradeHash(ctx context.Context, identity *Identity, password string) {
	newHash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.identities.UpgradePasswordHash(ctx, identity.ID, newHash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"operation", "upgrade_password_hash",
			"identity_id", identity.ID.String(),
			"error", err)
		return
	}
	identity.PasswordHash = newHash
}

// Refresh rotates a refresh token and returns a new token pair.
func (s *LoginService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	pair, identity, err := s.sessions.Refresh(ctx, refreshToken, meta.UserAgent, meta.IPAddress)
	var id *ulid.ULID
	email := ""
	if identity != nil {
		id, email = &identity.ID, identity.Email
	}
	s.audit.Record(ctx, auditEntry(EventRefresh, id, email, meta, err))
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Tokens:                 *pair,
		PasswordChangeRequired: identity.MustChangePassword || identity.PasswordExpired(s.maxPasswordAge, s.now()),
		Identity:               identity,
	}, nil
}

// Logout revokes a refresh token. Unknown or already revoked tokens are
// not an error.
func (s *LoginService) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	identityID, err := s.sessions.Revoke(context.WithoutCancel(ctx), refreshToken)
	if err != nil && KindOf(err) != KindUnauthorized {
		s.audit.Record(ctx, auditEntry(EventLogout, nil, "", meta, err))
		return err
	}
	s.audit.Record(ctx, auditEntry(EventLogout, idPtr(identityID), "", meta, nil))
	return nil
}

// VerifyAccessToken validates an access token issued by this service.
func (s *LoginService) VerifyAccessToken(token string) (*AccessClaims, error) {
	return s.sessions.VerifyAccessToken(token)
}

func lockedError(status LockoutStatus) error {
	b := oops.Code(CodeAccountLocked).Public("account is temporarily locked")
	if status.Until != nil {
		b = b.With("locked_until", *status.Until)
	}
	return b.Errorf("account is temporarily locked")
}
