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

// PasswordResetDeps holds the collaborators of a PasswordResetService.
type PasswordResetDeps struct {
	Identities IdentityRepository
	Hasher     PasswordHasher
	Policy     *PolicyEngine
	Resets     *TokenIssuer
	Lockout    *LockoutTracker
	Sessions   *SessionIssuer
	Mailer     Mailer
	Audit      AuditLogger
	// Floor defaults to DefaultMinResponseTime.
	Floor           *LatencyFloor
	Logger          *slog.Logger
	Metrics         MetricsRecorder
	UpstreamTimeout time.Duration
	Now             func() time.Time
}

// PasswordResetService handles forgotten-password resets and password changes.
type PasswordResetService struct {
	identities      IdentityRepository
	hasher          PasswordHasher
	policy          *PolicyEngine
	resets          *TokenIssuer
	lockout         *LockoutTracker
	sessions        *SessionIssuer
	mailer          Mailer
	audit           AuditLogger
	floor           *LatencyFloor
	logger          *slog.Logger
	metrics         MetricsRecorder
	upstreamTimeout time.Duration
	now             func() time.Time
}

// NewPasswordResetService validates deps and creates a PasswordResetService.
func NewPasswordResetService(deps PasswordResetDeps) (*PasswordResetService, error) {
	switch {
	case deps.Identities == nil:
		return nil, oops.Errorf("identity repository is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Policy == nil:
		return nil, oops.Errorf("policy engine is required")
	case deps.Resets == nil:
		return nil, oops.Errorf("reset token issuer is required")
	case deps.Resets.Purpose() != PurposePasswordReset:
		return nil, oops.Errorf("reset token issuer must issue %s tokens", PurposePasswordReset)
	case deps.Lockout == nil:
		return nil, oops.Errorf("lockout tracker is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session issuer is required")
	case deps.Mailer == nil:
		return nil, oops.Errorf("mailer is required")
	case deps.Audit == nil:
		return nil, oops.Errorf("audit logger is required")
	}
	if deps.Floor == nil {
		deps.Floor = NewLatencyFloor(DefaultMinResponseTime)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.UpstreamTimeout <= 0 {
		deps.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &PasswordResetService{
		identities:      deps.Identities,
		hasher:          deps.Hasher,
		policy:          deps.Policy,
		resets:          deps.Resets,
		lockout:         deps.Lockout,
		sessions:        deps.Sessions,
		mailer:          deps.Mailer,
		audit:           deps.Audit,
		floor:           deps.Floor,
		logger:          deps.Logger,
		metrics:         metricsOrNoop(deps.Metrics),
		upstreamTimeout: deps.UpstreamTimeout,
		now:             deps.Now,
	}, nil
}

// RequestReset emails a reset token to a known identity. The result is the
// same for unknown emails to prevent enumeration.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, meta RequestMeta) error {
	_, err := Pad(ctx, s.floor, func(ctx context.Context) (struct{}, error) {
		identity, err := s.requestReset(ctx, email)
		var id *ulid.ULID
		if identity != nil {
			id = &identity.ID
		}
		entry := auditEntry(EventPasswordResetRequest, id, email, meta, err)
		if err == nil && identity == nil {
			entry.Outcome = AuditFailure
			entry.Reason = "unknown_email"
		}
		s.audit.Record(ctx, entry)
		return struct{}{}, err
	})
	return err
}

func (s *PasswordResetService) requestReset(ctx context.Context, email string) (*Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, validationError(map[string]string{"email": "is required"})
	}
	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GetByEmail").
			Wrap(err)
	}

	token, _, err := s.resets.Issue(ctx, identity.ID)
	if err != nil {
		return identity, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "Issue").
			Wrap(err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.upstreamTimeout)
	defer cancel()
	if err := s.mailer.SendPasswordResetEmail(sendCtx, identity.Email, identity.DisplayName(), token); err != nil {
		s.logger.WarnContext(ctx, "best-effort email delivery failed",
			"operation", "send_password_reset_email",
			"identity_id", identity.ID.String(),
			"error", err)
	}
	return identity, nil
}

// ResetPassword sets a new password using a reset token. The token is only
// consumed once the new password has passed every policy check.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword, confirm string, meta RequestMeta) error {
	_, err := Pad(ctx, s.floor, func(ctx context.Context) (struct{}, error) {
		identityID, err := s.resetPassword(ctx, token, newPassword, confirm)
		s.audit.Record(ctx, auditEntry(EventPasswordReset, idPtr(identityID), "", meta, err))
		s.metrics.TokenRedemption(string(PurposePasswordReset), outcomeLabel(err))
		return struct{}{}, err
	})
	return err
}

func (s *PasswordResetService) resetPassword(ctx context.Context, token, newPassword, confirm string) (ulid.ULID, error) {
	if err := confirmMatches(newPassword, confirm); err != nil {
		return ulid.ULID{}, err
	}

	identityID, err := s.resets.Peek(ctx, token)
	if err != nil {
		return ulid.ULID{}, err // Already has appropriate error code
	}
	if err := s.policy.ValidateNewPassword(ctx, identityID, newPassword); err != nil {
		return identityID, err
	}

	// Redeem re-checks the token under a row lock, so a concurrent reset
	// with the same token fails here.
	if _, err := s.resets.Redeem(context.WithoutCancel(ctx), token); err != nil {
		return identityID, err
	}
	return identityID, s.setPassword(ctx, identityID, newPassword)
}

// ChangePassword replaces the password of an authenticated identity after
// checking the current one. A wrong current password counts as a failed
// login attempt.
func (s *PasswordResetService) ChangePassword(ctx context.Context, identityID ulid.ULID, current, newPassword, confirm string, meta RequestMeta) error {
	err := s.changePassword(ctx, identityID, current, newPassword, confirm, meta)
	s.audit.Record(ctx, auditEntry(EventPasswordChange, idPtr(identityID), "", meta, err))
	return err
}

func (s *PasswordResetService) changePassword(ctx context.Context, identityID ulid.ULID, current, newPassword, confirm string, meta RequestMeta) error {
	if err := confirmMatches(newPassword, confirm); err != nil {
		return err
	}
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "GetByID").
			Wrap(err)
	}

	status, err := s.lockout.CheckStatus(ctx, identityID)
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "CheckStatus").
			Wrap(err)
	}
	if status.Locked {
		return lockedError(status)
	}
	if !s.hasher.Verify(current, identity.PasswordHash) {
		status, err := s.lockout.RecordFailure(context.WithoutCancel(ctx), identityID, meta.IPAddress, meta.UserAgent)
		if err != nil {
			s.logger.WarnContext(ctx, "best-effort failure recording failed",
				"operation", "record_failure",
				"identity_id", identityID.String(),
				"error", err)
		} else if status.Locked {
			s.metrics.Lockout()
			return lockedError(status)
		}
		return invalidCredentials().
			Public("current password is incorrect").
			Errorf("current password does not match")
	}

	if err := s.policy.ValidateNewPassword(ctx, identityID, newPassword); err != nil {
		return err
	}
	return s.setPassword(ctx, identityID, newPassword)
}

// setPassword stores the new hash with its history entry, then clears
// failures and revokes refresh tokens.
func (s *PasswordResetService) setPassword(ctx context.Context, identityID ulid.ULID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "Hash").
			Wrap(err)
	}
	detached := context.WithoutCancel(ctx)
	if err := s.identities.SetPassword(detached, identityID, hash, s.now(), s.policy.HistoryDepth()); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "SetPassword").
			Wrap(err)
	}

	if err := s.lockout.ClearFailures(detached, identityID); err != nil {
		s.logger.WarnContext(ctx, "best-effort clear failures failed",
			"operation", "clear_failures",
			"identity_id", identityID.String(),
			"error", err)
	}
	if err := s.sessions.RevokeAll(detached, identityID); err != nil {
		s.logger.WarnContext(ctx, "best-effort session revocation failed",
			"operation", "revoke_sessions",
			"identity_id", identityID.String(),
			"error", err)
	}
	return nil
}

func confirmMatches(password, confirm string) error {
	fields := map[string]string{}
	if password == "" {
		fields["password"] = "is required"
	}
	if password != confirm {
		fields["confirm_password"] = "must match password"
	}
	if len(fields) > 0 {
		return validationError(fields)
	}
	return nil
}
