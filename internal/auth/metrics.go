// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

// MetricsRecorder receives counters from the auth services.
type MetricsRecorder interface {
	LoginAttempt(outcome string)
	Registration(outcome string)
	Lockout()
	UpstreamSoftFail(collaborator string)
	TokenRedemption(purpose, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) LoginAttempt(string)            {}
func (noopMetrics) Registration(string)            {}
func (noopMetrics) Lockout()                       {}
func (noopMetrics) UpstreamSoftFail(string)        {}
func (noopMetrics) TokenRedemption(string, string) {}

func metricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// outcomeLabel turns an error into a bounded metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(KindOf(err))
}
