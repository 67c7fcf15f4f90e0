// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Sentinel errors returned by repositories.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an identity with the same email exists.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrDuplicateLicense is returned when an identity with the same license exists.
	ErrDuplicateLicense = errors.New("duplicate license")
)

// Error codes shared by the orchestrators and the HTTP layer.
const (
	CodeValidationFailed   = "AUTH_VALIDATION_FAILED"
	CodePolicyViolation    = "AUTH_POLICY_VIOLATION"
	CodePasswordLength     = "AUTH_PASSWORD_LENGTH"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeLicenseTaken       = "AUTH_LICENSE_TAKEN"
	CodeLicenseInvalid     = "AUTH_LICENSE_INVALID"
	CodeLicenseUnavailable = "AUTH_LICENSE_UNAVAILABLE"
	CodeTokenNotFound      = "TOKEN_NOT_FOUND"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeSessionInvalid     = "SESSION_INVALID"
)

// Public messages. Token and credential failures share one message each so
// callers cannot tell the underlying reason apart.
const (
	MsgInvalidToken       = "invalid or expired token"
	MsgInvalidCredentials = "invalid email or password"
)

// ErrorKind classifies an error for the transport layer.
type ErrorKind string

// Error kinds.
const (
	KindValidation          ErrorKind = "validation"
	KindPolicyViolation     ErrorKind = "policy_violation"
	KindConflict            ErrorKind = "conflict"
	KindInvalidToken        ErrorKind = "invalid_token"
	KindLocked              ErrorKind = "locked"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindForbidden           ErrorKind = "forbidden"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUnexpected          ErrorKind = "unexpected"
)

// KindOf maps an error to its kind using the oops code it carries.
// Errors without a known code are KindUnexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindUnexpected
	}
	switch fmt.Sprint(oopsErr.Code()) {
	case CodeValidationFailed, CodePasswordLength:
		return KindValidation
	case CodePolicyViolation:
		return KindPolicyViolation
	case CodeEmailTaken, CodeLicenseTaken, CodeLicenseInvalid:
		return KindConflict
	case CodeTokenNotFound, CodeTokenExpired, CodeTokenAlreadyUsed:
		return KindInvalidToken
	case CodeAccountLocked:
		return KindLocked
	case CodeInvalidCredentials, CodeSessionInvalid:
		return KindUnauthorized
	case CodeEmailNotVerified:
		return KindForbidden
	case CodeLicenseUnavailable:
		return KindUpstreamUnavailable
	default:
		return KindUnexpected
	}
}

// CodeOf returns the oops code carried by err, or "" when there is none.
func CodeOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code := oopsErr.Code(); code != nil {
		return fmt.Sprint(code)
	}
	return ""
}

// FieldErrors returns the per-field messages attached to a validation error.
func FieldErrors(err error) map[string]string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	fields, ok := oopsErr.Context()["fields"].(map[string]string)
	if !ok {
		return nil
	}
	return fields
}

// PolicyReasons returns the reason codes attached to a policy violation.
func PolicyReasons(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	reasons, ok := oopsErr.Context()["reasons"].([]string)
	if !ok {
		return nil
	}
	return reasons
}

func validationError(fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return oops.Code(CodeValidationFailed).
		With("fields", fields).
		Errorf("invalid input: %s", strings.Join(names, ", "))
}

func policyViolation(reasons []string) error {
	return oops.Code(CodePolicyViolation).
		With("reasons", reasons).
		Errorf("password does not meet policy: %s", strings.Join(reasons, ", "))
}

func invalidCredentials() oops.OopsErrorBuilder {
	return oops.Code(CodeInvalidCredentials)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
