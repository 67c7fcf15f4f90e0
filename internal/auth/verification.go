// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// VerifyEmail redeems an email-verification token and activates the
// identity. A token works once; every failure reads "invalid or expired token".
func (s *RegistrationService) VerifyEmail(ctx context.Context, token string, meta RequestMeta) (identity *Identity, err error) {
	ctx, span := tracer.Start(ctx, "auth.VerifyEmail")
	defer func() { endSpan(span, err) }()

	return Pad(ctx, s.floor, func(ctx context.Context) (*Identity, error) {
		identity, err := s.verifyEmail(ctx, token)
		var id *ulid.ULID
		email := ""
		if identity != nil {
			id, email = &identity.ID, identity.Email
		}
		s.audit.Record(ctx, auditEntry(EventVerifyEmail, id, email, meta, err))
		s.metrics.TokenRedemption(string(PurposeEmailVerification), outcomeLabel(err))
		return identity, err
	})
}

func (s *RegistrationService) verifyEmail(ctx context.Context, token string) (*Identity, error) {
	// Redemption must finish even if the client goes away.
	identityID, err := s.verification.Redeem(context.WithoutCancel(ctx), token)
	if err != nil {
		return nil, err
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "get identity").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if identity.Status != StatusUnverified {
		return identity, nil
	}

	if err := s.identities.UpdateStatus(context.WithoutCancel(ctx), identityID, StatusActive); err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "activate identity").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	identity.Status = StatusActive

	s.deliver(ctx, "send_welcome_email", identity.ID, func(ctx context.Context) error {
		return s.mailer.SendWelcomeEmail(ctx, identity.Email, identity.DisplayName())
	})
	return identity, nil
}

// ResendVerification issues a fresh verification token for an unverified
// identity, invalidating the previous one. The result is the same whether
// or not the email belongs to an eligible account.
func (s *RegistrationService) ResendVerification(ctx context.Context, email string, meta RequestMeta) error {
	_, err := Pad(ctx, s.floor, func(ctx context.Context) (struct{}, error) {
		identity, eligible, err := s.resend(ctx, email)
		var id *ulid.ULID
		if identity != nil {
			id = &identity.ID
		}
		entry := auditEntry(EventResendVerification, id, email, meta, err)
		if err == nil && !eligible {
			entry.Outcome = AuditFailure
			entry.Reason = "not_eligible"
		}
		s.audit.Record(ctx, entry)
		return struct{}{}, err
	})
	return err
}

func (s *RegistrationService) resend(ctx context.Context, email string) (*Identity, bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, false, validationError(map[string]string{"email": "is required"})
	}
	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, oops.Code("AUTH_RESEND_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	if identity.Status != StatusUnverified {
		return identity, false, nil
	}

	token, _, err := s.verification.Issue(ctx, identity.ID)
	if err != nil {
		return identity, false, oops.Code("AUTH_RESEND_FAILED").
			With("operation", "issue verification token").
			Wrap(err)
	}
	s.deliver(ctx, "send_verification_email", identity.ID, func(ctx context.Context) error {
		return s.mailer.SendVerificationEmail(ctx, identity.Email, identity.DisplayName(), token)
	})
	return identity, true, nil
}
