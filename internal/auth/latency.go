// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"time"
)

// DefaultMinResponseTime is the latency floor applied to login and
// registration responses.
const DefaultMinResponseTime = 500 * time.Millisecond

// LatencyFloor delays results until a minimum time has passed since the
// operation started, so every branch of an operation takes the same time.
type LatencyFloor struct {
	min   time.Duration
	now   func() time.Time
	sleep func(time.Duration)
}

// NewLatencyFloor returns a floor of the given duration. A zero or negative
// duration disables padding.
func NewLatencyFloor(minimum time.Duration) *LatencyFloor {
	return &LatencyFloor{min: minimum, now: time.Now, sleep: time.Sleep}
}

// Min returns the configured floor.
func (f *LatencyFloor) Min() time.Duration {
	if f == nil {
		return 0
	}
	return f.min
}

// Begin records the start of an operation and returns a function that
// blocks until the floor has elapsed. The wait is not interrupted by
// context cancellation; the caller still gets a padded response.
func (f *LatencyFloor) Begin() (wait func()) {
	if f == nil || f.min <= 0 {
		return func() {}
	}
	start := f.now()
	return func() {
		if remaining := f.min - f.now().Sub(start); remaining > 0 {
			f.sleep(remaining)
		}
	}
}

// Pad runs fn and returns its results once the floor has elapsed.
func Pad[T any](ctx context.Context, f *LatencyFloor, fn func(context.Context) (T, error)) (T, error) {
	wait := f.Begin()
	defer wait()
	return fn(ctx)
}
