// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long an account stays locked.
	DefaultLockoutDuration = 15 * time.Minute
)

// FailedLoginRecord is the per-identity failure counter.
type FailedLoginRecord struct {
	IdentityID    ulid.ULID
	FailureCount  int
	LastFailureAt time.Time
	LastIP        string
	LastUserAgent string
	LockedUntil   *time.Time
}

// IsLockedAt returns true while now is before LockedUntil.
func (r *FailedLoginRecord) IsLockedAt(now time.Time) bool {
	return r != nil && r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// FailureIncrement describes one failed attempt for FailureRepository.Increment.
type FailureIncrement struct {
	IdentityID ulid.ULID
	IPAddress  string
	UserAgent  string
	At         time.Time
	// Threshold is the count at which LockUntil is applied.
	Threshold int
	// LockUntil is the lock expiry set when Threshold is reached.
	LockUntil time.Time
	// WindowStart resets the counter when the previous failure is older
	// than it and no lock is active.
	WindowStart time.Time
}

// FailureRepository persists failure counters.
type FailureRepository interface {
	// Get returns the record for an identity. Returns ErrNotFound if the
	// identity has no recorded failures.
	Get(ctx context.Context, identityID ulid.ULID) (*FailedLoginRecord, error)

	// Increment atomically applies one failure and returns the updated
	// record. A lock that has elapsed resets the counter before the
	// increment; reaching the threshold sets LockedUntil.
	Increment(ctx context.Context, inc FailureIncrement) (*FailedLoginRecord, error)

	// Clear resets the counter and lock for an identity.
	Clear(ctx context.Context, identityID ulid.ULID) error
}

// LockoutStatus is the lockout view of an identity.
type LockoutStatus struct {
	Locked            bool
	Until             *time.Time
	RemainingAttempts int
}

// LockoutConfig configures a LockoutTracker.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	Now       func() time.Time
}

// LockoutTracker enforces temporary lockout after repeated failures.
type LockoutTracker struct {
	repo      FailureRepository
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutTracker creates a tracker. Zero config values use the defaults.
func NewLockoutTracker(repo FailureRepository, cfg LockoutConfig) (*LockoutTracker, error) {
	if repo == nil {
		return nil, oops.Errorf("failure repository is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLockoutThreshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultLockoutDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LockoutTracker{repo: repo, threshold: cfg.Threshold, duration: cfg.Duration, now: cfg.Now}, nil
}

// Threshold returns the configured failure threshold.
func (t *LockoutTracker) Threshold() int { return t.threshold }

// CheckStatus reports whether an identity is locked.
func (t *LockoutTracker) CheckStatus(ctx context.Context, identityID ulid.ULID) (LockoutStatus, error) {
	rec, err := t.repo.Get(ctx, identityID)
	if err != nil {
		if isNotFound(err) {
			return LockoutStatus{RemainingAttempts: t.threshold}, nil
		}
		return LockoutStatus{}, oops.Code("LOCKOUT_CHECK_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return t.statusOf(rec), nil
}

// RecordFailure counts a failed attempt and returns the resulting status.
// The update is a single atomic statement in the repository, so concurrent
// failures can never exceed the threshold without locking.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identityID ulid.ULID, ip, userAgent string) (LockoutStatus, error) {
	now := t.now()
	rec, err := t.repo.Increment(ctx, FailureIncrement{
		IdentityID:  identityID,
		IPAddress:   ip,
		UserAgent:   userAgent,
		At:          now,
		Threshold:   t.threshold,
		LockUntil:   now.Add(t.duration),
		WindowStart: now.Add(-t.duration),
	})
	if err != nil {
		return LockoutStatus{}, oops.Code("LOCKOUT_RECORD_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return t.statusOf(rec), nil
}

// ClearFailures resets the counter after a successful authentication.
func (t *LockoutTracker) ClearFailures(ctx context.Context, identityID ulid.ULID) error {
	if err := t.repo.Clear(ctx, identityID); err != nil {
		return oops.Code("LOCKOUT_CLEAR_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

func (t *LockoutTracker) statusOf(rec *FailedLoginRecord) LockoutStatus {
	now := t.now()
	if rec.IsLockedAt(now) {
		until := *rec.LockedUntil
		return LockoutStatus{Locked: true, Until: &until}
	}
	// An elapsed lock or a stale failure run counts as a fresh start.
	if rec.LockedUntil != nil || !rec.LastFailureAt.After(now.Add(-t.duration)) {
		return LockoutStatus{RemainingAttempts: t.threshold}
	}
	remaining := t.threshold - rec.FailureCount
	if remaining < 0 {
		remaining = 0
	}
	return LockoutStatus{RemainingAttempts: remaining}
}
