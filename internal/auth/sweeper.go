// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig controls how often expired tokens are removed and how long
// they are kept after expiry.
type SweeperConfig struct {
	Interval time.Duration
	// Grace keeps expired rows for this long past their expiry.
	Grace time.Duration
}

// DefaultSweeperConfig returns the sweep settings used by the server.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: time.Hour,
		Grace:    24 * time.Hour,
	}
}

// ExpiredDeleter is any store that can drop expired tokens.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenSweeper periodically deletes expired verification, reset and
// refresh tokens.
type TokenSweeper struct {
	cfg    SweeperConfig
	stores map[string]ExpiredDeleter
	logger *slog.Logger
	clock  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTokenSweeper creates a sweeper over the named stores.
func NewTokenSweeper(cfg SweeperConfig, stores map[string]ExpiredDeleter, logger *slog.Logger) *TokenSweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSweeper{cfg: cfg, stores: stores, logger: logger, clock: time.Now}
}

// RunOnce sweeps every store. A failing store does not stop the others;
// errors are joined.
func (w *TokenSweeper) RunOnce(ctx context.Context) error {
	cutoff := w.clock().Add(-w.cfg.Grace)
	var errs []error
	for name, store := range w.stores {
		deleted, err := store.DeleteExpired(ctx, cutoff)
		if err != nil {
			w.logger.ErrorContext(ctx, "token sweep failed", "store", name, "error", err)
			errs = append(errs, err)
			continue
		}
		if deleted > 0 {
			w.logger.InfoContext(ctx, "deleted expired tokens", "store", name, "count", deleted)
		}
	}
	return errors.Join(errs...)
}

// Start begins periodic sweeping.
func (w *TokenSweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (w *TokenSweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *TokenSweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	_ = w.RunOnce(ctx) //nolint:errcheck // failures are logged per store

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx) //nolint:errcheck // failures are logged per store
		}
	}
}
