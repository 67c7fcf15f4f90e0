// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/theranote/theranote/internal/auth"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		code string
		want auth.ErrorKind
	}{
		{auth.CodeValidationFailed, auth.KindValidation},
		{auth.CodePasswordLength, auth.KindValidation},
		{auth.CodePolicyViolation, auth.KindPolicyViolation},
		{auth.CodeEmailTaken, auth.KindConflict},
		{auth.CodeLicenseTaken, auth.KindConflict},
		{auth.CodeLicenseInvalid, auth.KindConflict},
		{auth.CodeTokenNotFound, auth.KindInvalidToken},
		{auth.CodeTokenExpired, auth.KindInvalidToken},
		{auth.CodeTokenAlreadyUsed, auth.KindInvalidToken},
		{auth.CodeAccountLocked, auth.KindLocked},
		{auth.CodeInvalidCredentials, auth.KindUnauthorized},
		{auth.CodeSessionInvalid, auth.KindUnauthorized},
		{auth.CodeEmailNotVerified, auth.KindForbidden},
		{auth.CodeLicenseUnavailable, auth.KindUpstreamUnavailable},
		{"SESSION_CREATE_FAILED", auth.KindUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.KindOf(oops.Code(tt.code).Errorf("boom")))
		})
	}

	assert.Equal(t, auth.ErrorKind(""), auth.KindOf(nil))
	assert.Equal(t, auth.KindUnexpected, auth.KindOf(errors.New("plain")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", auth.CodeOf(nil))
	assert.Equal(t, "", auth.CodeOf(errors.New("plain")))
	assert.Equal(t, "", auth.CodeOf(oops.Errorf("no code")))
	assert.Equal(t, auth.CodeEmailTaken, auth.CodeOf(oops.Code(auth.CodeEmailTaken).Errorf("taken")))
}

func TestFieldErrorsAndPolicyReasons(t *testing.T) {
	assert.Nil(t, auth.FieldErrors(errors.New("plain")))
	assert.Nil(t, auth.PolicyReasons(errors.New("plain")))
	assert.Nil(t, auth.FieldErrors(oops.Code(auth.CodeValidationFailed).Errorf("no fields")))
}
