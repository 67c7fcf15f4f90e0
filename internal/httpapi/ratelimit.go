// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package httpapi

import (
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Rate limiting defaults for the unauthenticated endpoints.
const (
	// DefaultBurst is the number of requests a client may send back to back.
	DefaultBurst = 10

	// DefaultRate is the refill rate in requests per second.
	DefaultRate = 0.5

	// MinRate keeps a bucket from never refilling.
	MinRate = 0.01

	// DefaultCleanupInterval is how often idle buckets are dropped.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultIdleTTL is how long a bucket may go unused before cleanup removes it.
	DefaultIdleTTL = time.Hour
)

// CodeRateLimited is returned with 429 responses.
const CodeRateLimited = "HTTP_RATE_LIMITED"

// RateLimiterConfig configures a RateLimiter. Zero values take the defaults.
type RateLimiterConfig struct {
	Burst           int
	Rate            float64
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	// Registerer, when set, receives a gauge of tracked clients and a
	// counter of rejected requests.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket. It is safe for concurrent use.
//
// A background goroutine drops idle buckets; call Close to stop it.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   int
	rate    float64
	idleTTL time.Duration
	now     func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	clients  prometheus.Gauge
	rejected prometheus.Counter
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Rate < MinRate {
		cfg.Rate = MinRate
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		burst:   cfg.Burst,
		rate:    cfg.Rate,
		idleTTL: cfg.IdleTTL,
		now:     cfg.Now,
		stop:    make(chan struct{}),
	}
	if cfg.Registerer != nil {
		rl.clients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "theranote_ratelimiter_clients",
			Help: "Clients currently tracked by the API rate limiter",
		})
		rl.rejected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theranote_ratelimiter_rejected_total",
			Help: "Requests rejected by the API rate limiter",
		})
		cfg.Registerer.MustRegister(rl.clients, rl.rejected)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cfg.CleanupInterval)
	return rl
}

// Allow consumes one token for key. When no token is left it reports how
// long until the next one is available.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastSeen: now}
		rl.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(rl.burst), b.tokens+elapsed*rl.rate)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rl.rejected != nil {
		rl.rejected.Inc()
	}
	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return false, wait
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Cleanup drops buckets idle for longer than the configured TTL.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-rl.idleTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(threshold) {
			delete(rl.buckets, key)
		}
	}
	if rl.clients != nil {
		rl.clients.Set(float64(len(rl.buckets)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and waits for it. It is safe to call
// more than once.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
	rl.wg.Wait()
}

// limit rejects clients that have exhausted their bucket. Buckets are keyed
// by route and client IP so a login flood does not block registration.
func (s *Server) limit(c *fiber.Ctx) error {
	if s.limiter == nil {
		return c.Next()
	}
	ok, wait := s.limiter.Allow(c.Route().Path + "|" + c.IP())
	if ok {
		return c.Next()
	}
	now := s.now()
	c.Set(fiber.HeaderRetryAfter, retryAfter(now.Add(wait), now))
	return c.Status(fiber.StatusTooManyRequests).JSON(errorResponse{Error: ErrorBody{
		Code:    CodeRateLimited,
		Message: "too many requests, try again later",
	}})
}
