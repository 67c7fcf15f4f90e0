// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"log/slog"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Policy reasons reported in StrengthResult and policy violations.
const (
	ReasonTooShort      = "too_short"
	ReasonTooLong       = "too_long"
	ReasonMissingUpper  = "missing_upper"
	ReasonMissingLower  = "missing_lower"
	ReasonMissingDigit  = "missing_digit"
	ReasonMissingSymbol = "missing_symbol"
	ReasonBreached      = "breached"
	ReasonReused        = "reused"
)

// Policy defaults.
const (
	DefaultPolicyMinLength = 12
	DefaultBreachTimeout   = 2 * time.Second
)

var reasonMessages = map[string]string{
	ReasonTooShort:      "password is too short",
	ReasonTooLong:       "password is too long",
	ReasonMissingUpper:  "password needs an upper-case letter",
	ReasonMissingLower:  "password needs a lower-case letter",
	ReasonMissingDigit:  "password needs a digit",
	ReasonMissingSymbol: "password needs a symbol",
	ReasonBreached:      "password appears in a known data breach",
	ReasonReused:        "password was used recently",
}

// ReasonMessage returns a user-facing message for a policy reason.
func ReasonMessage(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return reason
}

// StrengthResult is the outcome of ValidateStrength.
type StrengthResult struct {
	OK      bool
	Reasons []string
}

// BreachChecker looks up how often a password appears in breach corpora.
type BreachChecker interface {
	Count(ctx context.Context, password string) (int, error)
}

// PolicyConfig configures a PolicyEngine.
type PolicyConfig struct {
	MinLength     int
	HistoryDepth  int
	BreachTimeout time.Duration
}

// PolicyEngine applies password strength, breach and reuse rules.
type PolicyEngine struct {
	hasher        PasswordHasher
	history       PasswordHistoryRepository
	breach        BreachChecker
	minLength     int
	historyDepth  int
	breachTimeout time.Duration
	logger        *slog.Logger
	metrics       MetricsRecorder
}

// NewPolicyEngine creates a PolicyEngine. breach may be nil to disable the
// breach lookup.
func NewPolicyEngine(hasher PasswordHasher, history PasswordHistoryRepository, breach BreachChecker, cfg PolicyConfig) (*PolicyEngine, error) {
	return NewPolicyEngineWithLogger(hasher, history, breach, cfg, slog.Default(), nil)
}

// NewPolicyEngineWithLogger creates a PolicyEngine with a custom logger and metrics.
func NewPolicyEngineWithLogger(
	hasher PasswordHasher,
	history PasswordHistoryRepository,
	breach BreachChecker,
	cfg PolicyConfig,
	logger *slog.Logger,
	metrics MetricsRecorder,
) (*PolicyEngine, error) {
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if history == nil {
		return nil, oops.Errorf("password history repository is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultPolicyMinLength
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}
	if cfg.BreachTimeout <= 0 {
		cfg.BreachTimeout = DefaultBreachTimeout
	}
	return &PolicyEngine{
		hasher:        hasher,
		history:       history,
		breach:        breach,
		minLength:     cfg.MinLength,
		historyDepth:  cfg.HistoryDepth,
		breachTimeout: cfg.BreachTimeout,
		logger:        logger,
		metrics:       metricsOrNoop(metrics),
	}, nil
}

// HistoryDepth returns how many previous passwords are retained.
func (p *PolicyEngine) HistoryDepth() int { return p.historyDepth }

// ValidateStrength checks length and character classes.
func (p *PolicyEngine) ValidateStrength(password string) StrengthResult {
	var reasons []string
	n := utf8.RuneCountInString(password)
	if n < p.minLength {
		reasons = append(reasons, ReasonTooShort)
	}
	if n > MaxPasswordLength {
		reasons = append(reasons, ReasonTooLong)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper {
		reasons = append(reasons, ReasonMissingUpper)
	}
	if !lower {
		reasons = append(reasons, ReasonMissingLower)
	}
	if !digit {
		reasons = append(reasons, ReasonMissingDigit)
	}
	if !symbol {
		reasons = append(reasons, ReasonMissingSymbol)
	}
	return StrengthResult{OK: len(reasons) == 0, Reasons: reasons}
}

// CheckBreached reports whether the password appears in a breach corpus.
// Lookup failures are fail-open: the result is false with a SoftFail
// outcome and a warning is logged.
func (p *PolicyEngine) CheckBreached(ctx context.Context, password string) (bool, Outcome) {
	if p.breach == nil {
		return false, OK()
	}
	lookupCtx, cancel := context.WithTimeout(ctx, p.breachTimeout)
	defer cancel()

	count, err := p.breach.Count(lookupCtx, password)
	if err != nil {
		p.logger.WarnContext(ctx, "breach lookup failed, continuing without it",
			"operation", "check_breached",
			"error", err)
		p.metrics.UpstreamSoftFail("breach")
		return false, SoftFail("breach lookup unavailable")
	}
	if count > 0 {
		return true, HardFail(ReasonBreached)
	}
	return false, OK()
}

// CheckNotReused reports whether the candidate differs from every retained
// history entry. Hashes are salted, so each entry is checked by verifying
// the candidate against it.
func (p *PolicyEngine) CheckNotReused(ctx context.Context, identityID ulid.ULID, candidate string) (bool, error) {
	entries, err := p.history.ListRecent(ctx, identityID, p.historyDepth)
	if err != nil {
		return false, oops.Code("POLICY_HISTORY_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	for _, entry := range entries {
		if p.hasher.Verify(candidate, entry.PasswordHash) {
			return false, nil
		}
	}
	return true, nil
}

// ValidatePassword runs the strength and breach checks for a new account.
func (p *PolicyEngine) ValidatePassword(ctx context.Context, password string) error {
	if res := p.ValidateStrength(password); !res.OK {
		return policyViolation(res.Reasons)
	}
	if breached, _ := p.CheckBreached(ctx, password); breached {
		return policyViolation([]string{ReasonBreached})
	}
	return nil
}

// ValidateNewPassword runs strength, breach and reuse checks for an
// existing identity.
func (p *PolicyEngine) ValidateNewPassword(ctx context.Context, identityID ulid.ULID, password string) error {
	if err := p.ValidatePassword(ctx, password); err != nil {
		return err
	}
	fresh, err := p.CheckNotReused(ctx, identityID, password)
	if err != nil {
		return err
	}
	if !fresh {
		return policyViolation([]string{ReasonReused})
	}
	return nil
}
