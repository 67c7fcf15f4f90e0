// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/auth/authtest"
	"github.com/theranote/theranote/internal/auth/mocks"
	"github.com/theranote/theranote/pkg/errutil"
)

func TestNewPolicyEngine(t *testing.T) {
	hasher := &authtest.FakeHasher{}
	history := authtest.NewIdentityStore()

	_, err := auth.NewPolicyEngine(nil, history, nil, auth.PolicyConfig{})
	assert.ErrorContains(t, err, "password hasher is required")

	_, err = auth.NewPolicyEngine(hasher, nil, nil, auth.PolicyConfig{})
	assert.ErrorContains(t, err, "password history repository is required")

	_, err = auth.NewPolicyEngineWithLogger(hasher, history, nil, auth.PolicyConfig{}, nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	engine, err := auth.NewPolicyEngine(hasher, history, nil, auth.PolicyConfig{})
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultHistoryDepth, engine.HistoryDepth())
}

func TestPolicyEngine_ValidateStrength(t *testing.T) {
	engine, err := auth.NewPolicyEngine(&authtest.FakeHasher{}, authtest.NewIdentityStore(), nil, auth.PolicyConfig{})
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		reasons  []string
	}{
		{name: "strong", password: strongPassword},
		{name: "unicode symbol counts", password: "Str0ngPassw0rd€"},
		{name: "too short", password: "Sh0rt!pw", reasons: []string{auth.ReasonTooShort}},
		{name: "too long", password: "Aa1!" + strings.Repeat("x", 125), reasons: []string{auth.ReasonTooLong}},
		{name: "no upper", password: "str0ngp@ssw0rd!", reasons: []string{auth.ReasonMissingUpper}},
		{name: "no lower", password: "STR0NGP@SSW0RD!", reasons: []string{auth.ReasonMissingLower}},
		{name: "no digit", password: "StrongP@ssword!", reasons: []string{auth.ReasonMissingDigit}},
		{name: "no symbol", password: "Str0ngPassw0rd1", reasons: []string{auth.ReasonMissingSymbol}},
		{
			name:     "everything missing",
			password: "",
			reasons: []string{
				auth.ReasonTooShort, auth.ReasonMissingUpper, auth.ReasonMissingLower,
				auth.ReasonMissingDigit, auth.ReasonMissingSymbol,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.ValidateStrength(tt.password)
			assert.Equal(t, len(tt.reasons) == 0, res.OK)
			assert.Equal(t, tt.reasons, res.Reasons)
		})
	}
}

func TestPolicyEngine_ValidateStrength_MinLength(t *testing.T) {
	engine, err := auth.NewPolicyEngine(&authtest.FakeHasher{}, authtest.NewIdentityStore(), nil, auth.PolicyConfig{MinLength: 8})
	require.NoError(t, err)
	assert.True(t, engine.ValidateStrength("Sh0rt!pw").OK)
}

func TestReasonMessage(t *testing.T) {
	assert.Equal(t, "password appears in a known data breach", auth.ReasonMessage(auth.ReasonBreached))
	assert.Equal(t, "custom", auth.ReasonMessage("custom"))
}

func TestPolicyEngine_CheckBreached(t *testing.T) {
	t.Run("nil checker is ok", func(t *testing.T) {
		f := newFixture(t)
		breached, outcome := f.policy.CheckBreached(bg, strongPassword)
		assert.False(t, breached)
		assert.True(t, outcome.IsOK())
	})

	t.Run("found in corpus", func(t *testing.T) {
		f := newFixture(t)
		checker := mocks.NewMockBreachChecker(t)
		checker.On("Count", mock.Anything, strongPassword).Return(42, nil)
		engine, err := auth.NewPolicyEngineWithLogger(f.hasher, f.identities, checker, auth.PolicyConfig{}, f.logger, nil)
		require.NoError(t, err)

		breached, outcome := engine.CheckBreached(bg, strongPassword)
		assert.True(t, breached)
		assert.Equal(t, auth.OutcomeHardFail, outcome.Kind)

		err = engine.ValidatePassword(bg, strongPassword)
		errutil.AssertErrorCode(t, err, auth.CodePolicyViolation)
		assert.Equal(t, []string{auth.ReasonBreached}, auth.PolicyReasons(err))
	})

	t.Run("not in corpus", func(t *testing.T) {
		f := newFixture(t)
		checker := mocks.NewMockBreachChecker(t)
		checker.On("Count", mock.Anything, strongPassword).Return(0, nil)
		engine, err := auth.NewPolicyEngineWithLogger(f.hasher, f.identities, checker, auth.PolicyConfig{}, f.logger, nil)
		require.NoError(t, err)

		breached, outcome := engine.CheckBreached(bg, strongPassword)
		assert.False(t, breached)
		assert.True(t, outcome.IsOK())
	})

	t.Run("lookup failure fails open with warning", func(t *testing.T) {
		f := newFixture(t)
		metrics := authtest.NewMetrics()
		checker := mocks.NewMockBreachChecker(t)
		checker.On("Count", mock.Anything, strongPassword).Return(0, errors.New("connection refused"))
		engine, err := auth.NewPolicyEngineWithLogger(f.hasher, f.identities, checker, auth.PolicyConfig{}, f.logger, metrics)
		require.NoError(t, err)

		breached, outcome := engine.CheckBreached(bg, strongPassword)
		assert.False(t, breached)
		assert.Equal(t, auth.OutcomeSoftFail, outcome.Kind)
		assert.Equal(t, 1, metrics.SoftFails["breach"])

		entry := f.findLog(t, "check_breached")
		require.NotNil(t, entry, "expected a check_breached log entry")
		assert.Equal(t, "WARN", entry["level"])
		assert.Contains(t, entry["error"], "connection refused")

		assert.NoError(t, engine.ValidatePassword(bg, strongPassword))
	})

	t.Run("lookup is bounded by timeout", func(t *testing.T) {
		f := newFixture(t)
		checker := mocks.NewMockBreachChecker(t)
		checker.On("Count", mock.Anything, strongPassword).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(0, context.DeadlineExceeded)
		engine, err := auth.NewPolicyEngineWithLogger(f.hasher, f.identities, checker,
			auth.PolicyConfig{BreachTimeout: 20 * time.Millisecond}, f.logger, nil)
		require.NoError(t, err)

		start := time.Now()
		breached, outcome := engine.CheckBreached(bg, strongPassword)
		assert.False(t, breached)
		assert.Equal(t, auth.OutcomeSoftFail, outcome.Kind)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestPolicyEngine_ValidateNewPassword_History(t *testing.T) {
	f := newFixture(t)
	ident := f.addIdentity(t, "alice@example.com", "Generation0!pw", auth.StatusActive)

	generation := func(n int) string { return fmt.Sprintf("Generation%d!pw", n) }

	// Five more passwords push generation 0 out of the retained window.
	for n := 1; n <= 5; n++ {
		require.NoError(t, f.policy.ValidateNewPassword(bg, ident.ID, generation(n)), "generation %d", n)
		hash, err := f.hasher.Hash(generation(n))
		require.NoError(t, err)
		require.NoError(t, f.identities.SetPassword(bg, ident.ID, hash, f.clock.Now(), f.policy.HistoryDepth()))
	}
	assert.Equal(t, auth.DefaultHistoryDepth, f.identities.HistoryLen(ident.ID))

	for n := 1; n <= 5; n++ {
		err := f.policy.ValidateNewPassword(bg, ident.ID, generation(n))
		errutil.AssertErrorCode(t, err, auth.CodePolicyViolation)
		assert.Equal(t, []string{auth.ReasonReused}, auth.PolicyReasons(err))
	}

	assert.NoError(t, f.policy.ValidateNewPassword(bg, ident.ID, generation(0)))
}

func TestPolicyEngine_CheckNotReused_RepositoryError(t *testing.T) {
	f := newFixture(t)
	ident := f.addIdentity(t, "alice@example.com", strongPassword, auth.StatusActive)
	f.identities.Err = errors.New("db down")

	_, err := f.policy.CheckNotReused(bg, ident.ID, "Another0ne!pw")
	errutil.AssertErrorCode(t, err, "POLICY_HISTORY_FAILED")
}
