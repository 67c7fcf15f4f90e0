// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import "context"

// Mailer delivers account emails. Callers treat delivery as fire-and-forget:
// errors are logged, never propagated to the user.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, name, token string) error
	SendWelcomeEmail(ctx context.Context, email, name string) error
	SendPasswordResetEmail(ctx context.Context, email, name, token string) error
}

// LicenseResult is the registry's answer for a professional license.
type LicenseResult struct {
	Valid   bool
	Details map[string]string
}

// LicenseVerifier checks a professional license against an external registry.
// An explicit "invalid" answer is HardFail; network trouble is SoftFail.
type LicenseVerifier interface {
	Verify(ctx context.Context, number, state, licenseType string) (LicenseResult, Outcome)
}

// LicensePolicy decides what happens when license verification is unavailable.
type LicensePolicy string

// License policies.
const (
	// LicensePolicyReview registers the account and flags it for manual review.
	LicensePolicyReview LicensePolicy = "review"
	// LicensePolicyReject refuses registration until the registry answers.
	LicensePolicyReject LicensePolicy = "reject"
)

// Valid reports whether the policy is known.
func (p LicensePolicy) Valid() bool {
	return p == LicensePolicyReview || p == LicensePolicyReject
}
