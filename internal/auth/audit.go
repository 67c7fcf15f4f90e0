// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AuditEvent names an audited operation.
type AuditEvent string

// Audited events.
const (
	EventRegister             AuditEvent = "register"
	EventLogin                AuditEvent = "login"
	EventVerifyEmail          AuditEvent = "verify_email"
	EventResendVerification   AuditEvent = "resend_verification"
	EventPasswordResetRequest AuditEvent = "password_reset_request"
	EventPasswordReset        AuditEvent = "password_reset"
	EventPasswordChange       AuditEvent = "password_change"
	EventRefresh              AuditEvent = "refresh"
	EventLogout               AuditEvent = "logout"
)

// AuditOutcome is success or failure.
type AuditOutcome string

// Audit outcomes.
const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
)

// AuditEntry is one recorded attempt. It never carries passwords, tokens
// or full email addresses.
type AuditEntry struct {
	ID         ulid.ULID
	Event      AuditEvent
	Outcome    AuditOutcome
	Reason     string
	IdentityID *ulid.ULID
	EmailMask  string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Insert(ctx context.Context, entry *AuditEntry) error
}

// AuditLogger records attempts. Record never fails the caller.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// auditWriteTimeout bounds a single audit insert.
const auditWriteTimeout = 2 * time.Second

// StoreAuditLogger writes audit entries to a repository and falls back to the
// structured log when the write fails.
type StoreAuditLogger struct {
	repo   AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a StoreAuditLogger.
func NewAuditLogger(repo AuditRepository, logger *slog.Logger) (*StoreAuditLogger, error) {
	if repo == nil {
		return nil, oops.Errorf("audit repository is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &StoreAuditLogger{repo: repo, logger: logger, now: time.Now}, nil
}

// Record stores the entry. The write is detached from ctx cancellation so a
// client disconnect cannot drop the record.
func (a *StoreAuditLogger) Record(ctx context.Context, entry AuditEntry) {
	if entry.ID.Compare(ulid.ULID{}) == 0 {
		entry.ID = ulid.Make()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Insert(writeCtx, &entry); err != nil {
		attrs := []any{
			"operation", "audit_insert",
			"error", err,
			"event", string(entry.Event),
			"outcome", string(entry.Outcome),
			"reason", entry.Reason,
			"email_mask", entry.EmailMask,
			"ip", entry.IPAddress,
		}
		if entry.IdentityID != nil {
			attrs = append(attrs, "identity_id", entry.IdentityID.String())
		}
		a.logger.ErrorContext(ctx, "audit write failed, entry logged instead", attrs...)
	}
}

// LogAuditLogger writes audit entries only to the structured log.
type LogAuditLogger struct {
	logger *slog.Logger
}

// NewLogAuditLogger creates a LogAuditLogger.
func NewLogAuditLogger(logger *slog.Logger) *LogAuditLogger {
	return &LogAuditLogger{logger: logger}
}

// Record logs the entry at INFO.
func (a *LogAuditLogger) Record(ctx context.Context, entry AuditEntry) {
	attrs := []any{
		"event", string(entry.Event),
		"outcome", string(entry.Outcome),
		"reason", entry.Reason,
		"email_mask", entry.EmailMask,
		"ip", entry.IPAddress,
	}
	if entry.IdentityID != nil {
		attrs = append(attrs, "identity_id", entry.IdentityID.String())
	}
	a.logger.InfoContext(ctx, "auth audit", attrs...)
}

// MaskEmail keeps the first character of the local part and the domain:
// "alice@example.com" becomes "a****@example.com".
func MaskEmail(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "****"
	}
	local, domain := email[:at], email[at+1:]
	first := []rune(local)[0]
	return string(first) + "****@" + domain
}

// RequestMeta carries client details recorded with each attempt.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// auditEntry builds an entry from an operation result.
func auditEntry(event AuditEvent, identityID *ulid.ULID, email string, meta RequestMeta, err error) AuditEntry {
	entry := AuditEntry{
		Event:      event,
		Outcome:    AuditSuccess,
		IdentityID: identityID,
		EmailMask:  MaskEmail(email),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	}
	if err != nil {
		entry.Outcome = AuditFailure
		entry.Reason = CodeOf(err)
		if entry.Reason == "" {
			entry.Reason = string(KindUnexpected)
		}
	}
	return entry
}

func idPtr(id ulid.ULID) *ulid.ULID {
	if id.Compare(ulid.ULID{}) == 0 {
		return nil
	}
	return &id
}
