// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theranote/theranote/pkg/errutil"
)

func TestPasswordHistoryRepository_ListRecent(t *testing.T) {
	id := ulid.Make()
	first, second := ulid.Make(), ulid.Make()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	cols := []string{"id", "identity_id", "password_hash", "created_at"}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantLen   int
		wantCode  string
	}{
		{
			name: "newest first",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM password_history`).
					WithArgs(id.String(), 5).
					WillReturnRows(pgxmock.NewRows(cols).
						AddRow(second.String(), id.String(), "hash-2", at.Add(time.Hour)).
						AddRow(first.String(), id.String(), "hash-1", at))
			},
			wantLen: 2,
		},
		{
			name: "empty",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM password_history`).
					WithArgs(id.String(), 5).
					WillReturnRows(pgxmock.NewRows(cols))
			},
		},
		{
			name: "query error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM password_history`).
					WithArgs(id.String(), 5).
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "PASSWORD_HISTORY_QUERY_FAILED",
		},
		{
			name: "row error surfaces at scan",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM password_history`).
					WithArgs(id.String(), 5).
					WillReturnRows(pgxmock.NewRows(cols).
						AddRow(first.String(), id.String(), "hash-1", at).
						RowError(0, errors.New("network blip")))
			},
			wantCode: "PASSWORD_HISTORY_SCAN_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			entries, err := NewPasswordHistoryRepository(mock).ListRecent(context.Background(), id, 5)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Len(t, entries, tt.wantLen)
				if tt.wantLen > 0 {
					assert.Equal(t, second, entries[0].ID)
					assert.Equal(t, "hash-2", entries[0].PasswordHash)
					assert.Equal(t, id, entries[1].IdentityID)
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}
