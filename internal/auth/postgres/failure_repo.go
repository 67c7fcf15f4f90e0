// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
)

var _ auth.FailureRepository = (*FailureRepository)(nil)

// FailureRepository implements auth.FailureRepository using PostgreSQL.
// Increment is a single upsert so concurrent failures serialize on the row.
type FailureRepository struct {
	db DB
}

// NewFailureRepository creates a new FailureRepository.
func NewFailureRepository(db DB) *FailureRepository {
	return &FailureRepository{db: db}
}

// Get returns the failure record for an identity.
func (r *FailureRepository) Get(ctx context.Context, identityID ulid.ULID) (*auth.FailedLoginRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT identity_id, failure_count, last_failure_at, last_ip, last_user_agent, locked_until
		FROM failed_logins
		WHERE identity_id = $1
	`, identityID.String())
	rec, err := scanFailure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("FAILED_LOGIN_GET_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return rec, nil
}

// incrementSQL resets the counter when a lock has elapsed, or when there is
// no lock and the last failure is older than the window, then adds one.
// A lock that is still active is kept unchanged.
//
// $1 identity, $2 failure time, $3 ip, $4 user agent, $5 threshold,
// $6 lock expiry, $7 window start.
const incrementSQL = `
	INSERT INTO failed_logins (identity_id, failure_count, last_failure_at, last_ip, last_user_agent, locked_until)
	VALUES ($1, 1, $2::timestamptz, $3, $4, CASE WHEN 1 >= $5::int THEN $6::timestamptz END)
	ON CONFLICT (identity_id) DO UPDATE SET
		failure_count = CASE
			WHEN failed_logins.locked_until > $2::timestamptz THEN failed_logins.failure_count + 1
			WHEN failed_logins.locked_until IS NOT NULL OR failed_logins.last_failure_at <= $7::timestamptz THEN 1
			ELSE failed_logins.failure_count + 1
		END,
		locked_until = CASE
			WHEN failed_logins.locked_until > $2::timestamptz THEN failed_logins.locked_until
			WHEN (CASE
				WHEN failed_logins.locked_until IS NOT NULL OR failed_logins.last_failure_at <= $7::timestamptz THEN 1
				ELSE failed_logins.failure_count + 1
			END) >= $5::int THEN $6::timestamptz
			ELSE NULL
		END,
		last_failure_at = $2::timestamptz,
		last_ip = $3,
		last_user_agent = $4
	RETURNING identity_id, failure_count, last_failure_at, last_ip, last_user_agent, locked_until
`

// Increment applies one failure atomically and returns the updated record.
func (r *FailureRepository) Increment(ctx context.Context, inc auth.FailureIncrement) (*auth.FailedLoginRecord, error) {
	row := r.db.QueryRow(ctx, incrementSQL,
		inc.IdentityID.String(),
		inc.At,
		inc.IPAddress,
		inc.UserAgent,
		inc.Threshold,
		inc.LockUntil,
		inc.WindowStart,
	)
	rec, err := scanFailure(row)
	if err != nil {
		return nil, oops.Code("FAILED_LOGIN_INCREMENT_FAILED").
			With("identity_id", inc.IdentityID.String()).
			Wrap(err)
	}
	return rec, nil
}

// Clear deletes the failure record for an identity.
func (r *FailureRepository) Clear(ctx context.Context, identityID ulid.ULID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM failed_logins WHERE identity_id = $1`, identityID.String()); err != nil {
		return oops.Code("FAILED_LOGIN_CLEAR_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

func scanFailure(row pgx.Row) (*auth.FailedLoginRecord, error) {
	var (
		idStr string
		rec   auth.FailedLoginRecord
	)
	if err := row.Scan(&idStr, &rec.FailureCount, &rec.LastFailureAt, &rec.LastIP, &rec.LastUserAgent, &rec.LockedUntil); err != nil {
		return nil, err
	}
	id, err := parseULID(idStr, "identity_id")
	if err != nil {
		return nil, err
	}
	rec.IdentityID = id
	return &rec, nil
}
