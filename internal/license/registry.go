// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package license verifies professional licenses against an HTTP registry.
package license

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/theranote/theranote/internal/auth"
)

// Outcome reasons.
const (
	ReasonNotFound    = "not_found"
	ReasonInactive    = "inactive"
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "unavailable"
	ReasonBadResponse = "bad_response"
)

var _ auth.LicenseVerifier = (*Registry)(nil)

// Config configures a Registry client.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Registry implements auth.LicenseVerifier over a JSON HTTP API:
//
//	GET {endpoint}/v1/licenses?number=..&state=..&type=..
//
// 200 with valid=true is OK, 200 with valid=false or 404 is HardFail,
// and every transport or server failure is SoftFail.
type Registry struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

// registryResponse is the registry's JSON body.
type registryResponse struct {
	Valid      bool   `json:"valid"`
	Status     string `json:"status"`
	HolderName string `json:"holder_name"`
	ExpiresOn  string `json:"expires_on"`
}

// NewRegistry creates a Registry client.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
	if r.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		r.http = &http.Client{Timeout: timeout}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Verify looks up a license.
func (r *Registry) Verify(ctx context.Context, number, state, licenseType string) (auth.LicenseResult, auth.Outcome) {
	q := url.Values{}
	q.Set("number", number)
	q.Set("state", state)
	if licenseType != "" {
		q.Set("type", licenseType)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/v1/licenses?"+q.Encode(), nil)
	if err != nil {
		r.logger.Warn("license registry request build failed", "error", err)
		return auth.LicenseResult{}, auth.SoftFail(ReasonUnavailable)
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return auth.LicenseResult{}, auth.SoftFail(ReasonTimeout)
		}
		r.logger.Warn("license registry unreachable", "license_state", state, "error", err)
		return auth.LicenseResult{}, auth.SoftFail(ReasonUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return auth.LicenseResult{Valid: false}, auth.HardFail(ReasonNotFound)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		r.logger.Warn("license registry error status", "status", resp.StatusCode, "license_state", state)
		return auth.LicenseResult{}, auth.SoftFail(ReasonUnavailable)
	}

	var body registryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		r.logger.Warn("license registry bad response", "error", err)
		return auth.LicenseResult{}, auth.SoftFail(ReasonBadResponse)
	}

	result := auth.LicenseResult{
		Valid: body.Valid,
		Details: map[string]string{
			"status":      body.Status,
			"holder_name": body.HolderName,
			"expires_on":  body.ExpiresOn,
		},
	}
	if !body.Valid {
		return result, auth.HardFail(ReasonInactive)
	}
	return result, auth.OK()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
