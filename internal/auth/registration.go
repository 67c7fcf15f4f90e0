// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultUpstreamTimeout bounds license lookups and email delivery.
const DefaultUpstreamTimeout = 5 * time.Second

// RegistrationInput is the sign-up request.
type RegistrationInput struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	GivenName       string `json:"given_name" validate:"required,max=100"`
	FamilyName      string `json:"family_name" validate:"required,max=100"`
	LicenseNumber   string `json:"license_number" validate:"required,max=64"`
	LicenseState    string `json:"license_state" validate:"required,alpha,len=2"`
	LicenseType     string `json:"license_type" validate:"required,max=32"`
	AcceptedTerms   bool   `json:"accepted_terms"`
}

// RegistrationResult summarizes a new account.
type RegistrationResult struct {
	Identity              *Identity
	LicenseStatus         LicenseStatus
	VerificationExpiresAt time.Time
}

// RegistrationDeps holds the collaborators of a RegistrationService.
type RegistrationDeps struct {
	Identities   IdentityRepository
	Hasher       PasswordHasher
	Policy       *PolicyEngine
	Verification *TokenIssuer
	// Licenses is optional; without it every license is pending review.
	Licenses LicenseVerifier
	Mailer   Mailer
	Audit    AuditLogger
	// Floor defaults to DefaultMinResponseTime.
	Floor   *LatencyFloor
	Logger  *slog.Logger
	Metrics MetricsRecorder
	// LicensePolicy defaults to LicensePolicyReview.
	LicensePolicy   LicensePolicy
	UpstreamTimeout time.Duration
	Now             func() time.Time
}

// RegistrationService creates accounts and verifies their email addresses.
type RegistrationService struct {
	identities      IdentityRepository
	hasher          PasswordHasher
	policy          *PolicyEngine
	verification    *TokenIssuer
	licenses        LicenseVerifier
	mailer          Mailer
	audit           AuditLogger
	floor           *LatencyFloor
	logger          *slog.Logger
	metrics         MetricsRecorder
	licensePolicy   LicensePolicy
	upstreamTimeout time.Duration
	now             func() time.Time
}

// NewRegistrationService validates deps and creates a RegistrationService.
func NewRegistrationService(deps RegistrationDeps) (*RegistrationService, error) {
	switch {
	case deps.Identities == nil:
		return nil, oops.Errorf("identity repository is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Policy == nil:
		return nil, oops.Errorf("policy engine is required")
	case deps.Verification == nil:
		return nil, oops.Errorf("verification token issuer is required")
	case deps.Verification.Purpose() != PurposeEmailVerification:
		return nil, oops.Errorf("verification token issuer must issue %s tokens", PurposeEmailVerification)
	case deps.Mailer == nil:
		return nil, oops.Errorf("mailer is required")
	case deps.Audit == nil:
		return nil, oops.Errorf("audit logger is required")
	}
	if deps.LicensePolicy == "" {
		deps.LicensePolicy = LicensePolicyReview
	}
	if !deps.LicensePolicy.Valid() {
		return nil, oops.With("license_policy", string(deps.LicensePolicy)).Errorf("unknown license policy")
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
	return &RegistrationService{
		identities:      deps.Identities,
		hasher:          deps.Hasher,
		policy:          deps.Policy,
		verification:    deps.Verification,
		licenses:        deps.Licenses,
		mailer:          deps.Mailer,
		audit:           deps.Audit,
		floor:           deps.Floor,
		logger:          deps.Logger,
		metrics:         metricsOrNoop(deps.Metrics),
		licensePolicy:   deps.LicensePolicy,
		upstreamTimeout: deps.UpstreamTimeout,
		now:             deps.Now,
	}, nil
}

// Register creates an unverified account and sends its verification email.
// Every branch is audited and padded to the latency floor.
func (s *RegistrationService) Register(ctx context.Context, in RegistrationInput, meta RequestMeta) (res *RegistrationResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	return Pad(ctx, s.floor, func(ctx context.Context) (*RegistrationResult, error) {
		res, err := s.register(ctx, in)
		var id *ulid.ULID
		if res != nil {
			id = &res.Identity.ID
		}
		s.audit.Record(ctx, auditEntry(EventRegister, id, in.Email, meta, err))
		s.metrics.Registration(outcomeLabel(err))
		return res, err
	})
}

func (s *RegistrationService) register(ctx context.Context, in RegistrationInput) (*RegistrationResult, error) {
	in = normalizeRegistration(in)
	fields := validateStruct(in)
	if in.Password != in.ConfirmPassword {
		fields["confirm_password"] = "must match password"
	}
	if !in.AcceptedTerms {
		fields["accepted_terms"] = "must be accepted"
	}
	if len(fields) > 0 {
		return nil, validationError(fields)
	}

	if err := s.policy.ValidatePassword(ctx, in.Password); err != nil {
		return nil, err
	}

	email := in.Email
	number := in.LicenseNumber
	state := in.LicenseState

	if _, err := s.identities.GetByEmail(ctx, email); err == nil {
		return nil, emailTaken()
	} else if !isNotFound(err) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	taken, err := s.identities.ExistsByLicense(ctx, number, state)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check license uniqueness").
			Wrap(err)
	}
	if taken {
		return nil, licenseTaken()
	}

	licenseStatus, err := s.verifyLicense(ctx, number, state, in.LicenseType)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	identity, err := NewIdentity(email, hash, RoleTherapist, s.now())
	if err != nil {
		return nil, err
	}
	identity.GivenName = in.GivenName
	identity.FamilyName = in.FamilyName
	identity.License = License{
		Number: number,
		State:  state,
		Type:   in.LicenseType,
		Status: licenseStatus,
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			return nil, emailTaken()
		case errors.Is(err, ErrDuplicateLicense):
			return nil, licenseTaken()
		default:
			return nil, oops.Code("AUTH_REGISTER_FAILED").
				With("operation", "create identity").
				Wrap(err)
		}
	}

	result := &RegistrationResult{Identity: identity, LicenseStatus: licenseStatus}

	token, record, err := s.verification.Issue(ctx, identity.ID)
	if err != nil {
		// The account exists; the user can request a new email.
		s.logger.WarnContext(ctx, "best-effort verification token issue failed",
			"operation", "issue_verification_token",
			"identity_id", identity.ID.String(),
			"error", err)
		return result, nil
	}
	result.VerificationExpiresAt = record.ExpiresAt

	s.deliver(ctx, "send_verification_email", identity.ID, func(ctx context.Context) error {
		return s.mailer.SendVerificationEmail(ctx, identity.Email, identity.DisplayName(), token)
	})
	return result, nil
}

// verifyLicense branches on the verifier's tagged outcome.
// normalizeRegistration trims every text field, lower-cases the email and
// upper-cases the license state. Passwords are left untouched.
func normalizeRegistration(in RegistrationInput) RegistrationInput {
	in.Email = NormalizeEmail(in.Email)
	in.GivenName = strings.TrimSpace(in.GivenName)
	in.FamilyName = strings.TrimSpace(in.FamilyName)
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
	in.LicenseState = strings.ToUpper(strings.TrimSpace(in.LicenseState))
	in.LicenseType = strings.TrimSpace(in.LicenseType)
	return in
}

func (s *RegistrationService) verifyLicense(ctx context.Context, number, state, licenseType string) (LicenseStatus, error) {
	if s.licenses == nil {
		return LicensePendingReview, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	defer cancel()

	_, outcome := s.licenses.Verify(lookupCtx, number, state, licenseType)
	switch outcome.Kind {
	case OutcomeOK:
		return LicenseVerified, nil
	case OutcomeHardFail:
		return "", oops.Code(CodeLicenseInvalid).
			With("reason", outcome.Reason).
			Public("license could not be verified").
			Errorf("license rejected by registry: %s", outcome.Reason)
	default:
		s.metrics.UpstreamSoftFail("license")
		if s.licensePolicy == LicensePolicyReject {
			return "", oops.Code(CodeLicenseUnavailable).
				With("reason", outcome.Reason).
				Public("license verification is temporarily unavailable").
				Errorf("license registry unavailable: %s", outcome.Reason)
		}
		s.logger.WarnContext(ctx, "license verification unavailable, flagged for manual review",
			"operation", "verify_license",
			"reason", outcome.Reason)
		return LicensePendingReview, nil
	}
}

// deliver sends an email with its own timeout and logs failures.
func (s *RegistrationService) deliver(ctx context.Context, operation string, identityID ulid.ULID, send func(context.Context) error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.upstreamTimeout)
	defer cancel()
	if err := send(sendCtx); err != nil {
		s.logger.WarnContext(ctx, "best-effort email delivery failed",
			"operation", operation,
			"identity_id", identityID.String(),
			"error", err)
	}
}

func emailTaken() error {
	return oops.Code(CodeEmailTaken).
		Public("an account with this email already exists").
		Errorf("email already registered")
}

func licenseTaken() error {
	return oops.Code(CodeLicenseTaken).
		Public("this license is already registered").
		Errorf("license already registered")
}
