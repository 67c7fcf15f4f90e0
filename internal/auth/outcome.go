// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

// OutcomeKind tags the result of a call to a network-bound collaborator.
type OutcomeKind int

// Outcome kinds.
const (
	// OutcomeOK means the collaborator answered and the check passed.
	OutcomeOK OutcomeKind = iota
	// OutcomeSoftFail means the collaborator could not answer (timeout,
	// transport error, 5xx). Callers proceed and flag or log.
	OutcomeSoftFail
	// OutcomeHardFail means the collaborator answered with an explicit
	// negative result.
	OutcomeHardFail
)

// String returns the kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeSoftFail:
		return "soft_fail"
	case OutcomeHardFail:
		return "hard_fail"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a collaborator call.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// OK returns a passing outcome.
func OK() Outcome { return Outcome{Kind: OutcomeOK} }

// SoftFail returns an outcome for an unavailable collaborator.
func SoftFail(reason string) Outcome { return Outcome{Kind: OutcomeSoftFail, Reason: reason} }

// HardFail returns an outcome for an explicit negative answer.
func HardFail(reason string) Outcome { return Outcome{Kind: OutcomeHardFail, Reason: reason} }

// IsOK reports whether the outcome passed.
func (o Outcome) IsOK() bool { return o.Kind == OutcomeOK }
