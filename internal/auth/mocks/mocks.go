// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package mocks provides testify mocks for the auth collaborator interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/theranote/theranote/internal/auth"
)

var (
	_ auth.Mailer          = (*MockMailer)(nil)
	_ auth.LicenseVerifier = (*MockLicenseVerifier)(nil)
	_ auth.BreachChecker   = (*MockBreachChecker)(nil)
	_ auth.PasswordHasher  = (*MockPasswordHasher)(nil)
)

// MockMailer is a mock implementation of auth.Mailer.
type MockMailer struct {
	mock.Mock
}

// NewMockMailer creates a MockMailer whose expectations are asserted on cleanup.
func NewMockMailer(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockMailer {
	m := &MockMailer{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendVerificationEmail provides a mock function.
func (m *MockMailer) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	args := m.Called(ctx, email, name, token)
	return args.Error(0)
}

// SendWelcomeEmail provides a mock function.
func (m *MockMailer) SendWelcomeEmail(ctx context.Context, email, name string) error {
	args := m.Called(ctx, email, name)
	return args.Error(0)
}

// SendPasswordResetEmail provides a mock function.
func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, email, name, token string) error {
	args := m.Called(ctx, email, name, token)
	return args.Error(0)
}

// MockLicenseVerifier is a mock implementation of auth.LicenseVerifier.
type MockLicenseVerifier struct {
	mock.Mock
}

// NewMockLicenseVerifier creates a MockLicenseVerifier whose expectations are asserted on cleanup.
func NewMockLicenseVerifier(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockLicenseVerifier {
	m := &MockLicenseVerifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Verify provides a mock function.
func (m *MockLicenseVerifier) Verify(ctx context.Context, number, state, licenseType string) (auth.LicenseResult, auth.Outcome) {
	args := m.Called(ctx, number, state, licenseType)
	return args.Get(0).(auth.LicenseResult), args.Get(1).(auth.Outcome)
}

// MockBreachChecker is a mock implementation of auth.BreachChecker.
type MockBreachChecker struct {
	mock.Mock
}

// NewMockBreachChecker creates a MockBreachChecker whose expectations are asserted on cleanup.
func NewMockBreachChecker(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockBreachChecker {
	m := &MockBreachChecker{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Count provides a mock function.
func (m *MockBreachChecker) Count(ctx context.Context, password string) (int, error) {
	args := m.Called(ctx, password)
	return args.Int(0), args.Error(1)
}

// MockPasswordHasher is a mock implementation of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are asserted on cleanup.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify provides a mock function.
func (m *MockPasswordHasher) Verify(password, hash string) bool {
	args := m.Called(password, hash)
	return args.Bool(0)
}

// NeedsUpgrade provides a mock function.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	args := m.Called(hash)
	return args.Bool(0)
}
