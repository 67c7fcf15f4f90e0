// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package breach checks passwords against the Pwned Passwords range API.
// Only the first five hex characters of the SHA-1 digest leave the process.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // required by the range API, not used for secrecy
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/theranote/theranote/internal/auth"
)

// DefaultEndpoint is the public Pwned Passwords API.
const DefaultEndpoint = "https://api.pwnedpasswords.com"

const prefixLen = 5

var _ auth.BreachChecker = (*Client)(nil)

// Config configures a Client.
type Config struct {
	Endpoint string
	// Timeout bounds one lookup including retries.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// Backoff is the first retry delay.
	Backoff    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client implements auth.BreachChecker.
type Client struct {
	endpoint   string
	timeout    time.Duration
	maxRetries uint64
	backoff    time.Duration
	userAgent  string
	http       *http.Client
}

// NewClient creates a Client. Zero fields take defaults.
func NewClient(cfg Config) *Client {
	c := &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		userAgent:  cfg.UserAgent,
		http:       cfg.HTTPClient,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Second
	}
	if c.backoff <= 0 {
		c.backoff = 100 * time.Millisecond
	}
	if c.userAgent == "" {
		c.userAgent = "theranote-auth"
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Count returns how many times password appears in the breach corpus.
func (c *Client) Count(ctx context.Context, password string) (int, error) {
	prefix, suffix := rangeKey(password)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var count int
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		n, err := c.lookup(ctx, prefix, suffix)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, oops.Code("BREACH_LOOKUP_FAILED").With("prefix", prefix).Wrap(err)
	}
	return count, nil
}

// lookup performs one range request. Transport errors, 429 and 5xx are
// retryable; other statuses are not.
func (c *Client) lookup(ctx context.Context, prefix, suffix string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/range/"+prefix, nil)
	if err != nil {
		return 0, oops.Wrap(err)
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, retry.RetryableError(oops.With("status", resp.StatusCode).Errorf("range api returned %d", resp.StatusCode))
	default:
		return 0, oops.With("status", resp.StatusCode).Errorf("range api returned %d", resp.StatusCode)
	}

	return scanCount(resp.Body, suffix)
}

// scanCount finds suffix in a SUFFIX:COUNT body. Padding entries carry a
// count of zero, so a match on one reports zero.
func scanCount(body io.Reader, suffix string) (int, error) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hash, countStr, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(hash, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return 0, oops.With("line", line).Wrap(err)
		}
		return n, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, retry.RetryableError(oops.Wrap(err))
	}
	return 0, nil
}

// rangeKey splits the upper-case SHA-1 hex of password into the 5-char
// prefix sent to the API and the 35-char suffix matched locally.
func rangeKey(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password)) //nolint:gosec // range API contract
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return digest[:prefixLen], digest[prefixLen:]
}
