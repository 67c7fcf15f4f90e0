// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package auth provides account authentication and abuse resistance for TheraNote.
//
// # Domain Types
//
// Domain types should be created using their respective constructors:
//   - NewIdentity - creates an unverified Identity with a normalized email
//   - NewVerificationToken - creates a single-use token record for a purpose
//   - NewRefreshToken - creates a revocable refresh token record
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Building Blocks
//
//   - PasswordHasher - argon2id hashing in PHC format
//   - PolicyEngine - strength, breach (fail-open) and reuse checks
//   - LockoutTracker - per-identity failure counter with temporary lockout
//   - TokenIssuer - email-verification and password-reset tokens
//   - SessionIssuer - HS256 access tokens and persisted refresh tokens
//   - LatencyFloor - pads every response branch to a minimum duration
//   - AuditLogger - records every attempt with a masked email
//
// # Services
//
// Service types coordinate domain operations:
//   - RegistrationService - sign-up, email verification, resend
//   - LoginService - login, refresh, logout
//   - PasswordResetService - forgotten-password reset and password change
//
// Services are created with New*Service constructors that validate dependencies.
//
// Errors carry samber/oops codes; KindOf maps them to the transport-facing
// taxonomy.
package auth
