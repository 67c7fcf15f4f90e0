// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultHistoryDepth is the number of previous passwords that cannot be reused.
const DefaultHistoryDepth = 5

// PasswordHistoryEntry is one previously used password hash.
type PasswordHistoryEntry struct {
	ID           ulid.ULID
	IdentityID   ulid.ULID
	PasswordHash string
	CreatedAt    time.Time
}

// PasswordHistoryRepository reads password history. Entries are written by
// IdentityRepository.Create and IdentityRepository.SetPassword so the hash
// and its history row change together.
type PasswordHistoryRepository interface {
	// ListRecent returns up to limit entries, newest first.
	ListRecent(ctx context.Context, identityID ulid.ULID, limit int) ([]PasswordHistoryEntry, error)
}
