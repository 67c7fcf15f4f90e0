// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package main

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/httpapi"
	"github.com/theranote/theranote/internal/xdg"
)

// envPrefix marks environment overrides. A double underscore separates
// nesting levels: THERANOTE_AUTH__JWT_SECRET sets auth.jwt_secret.
const envPrefix = "THERANOTE_"

// Config is the full server configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Mail     MailConfig     `koanf:"mail"`
	Breach   BreachConfig   `koanf:"breach"`
	License  LicenseConfig  `koanf:"license"`
}

// LogConfig selects the log encoding and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string          `koanf:"addr"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig throttles login, registration and recovery requests per
// client IP. Burst 0 disables the limiter.
type RateLimitConfig struct {
	Burst int     `koanf:"burst"`
	Rate  float64 `koanf:"rate"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	MaxConns    int32  `koanf:"max_conns"`
	MinConns    int32  `koanf:"min_conns"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// AuthConfig tunes the account services.
type AuthConfig struct {
	JWTSecret            string        `koanf:"jwt_secret"`
	Issuer               string        `koanf:"issuer"`
	AccessTTL            time.Duration `koanf:"access_ttl"`
	RefreshTTL           time.Duration `koanf:"refresh_ttl"`
	MinResponseTime      time.Duration `koanf:"min_response_time"`
	LockoutThreshold     int           `koanf:"lockout_threshold"`
	LockoutDuration      time.Duration `koanf:"lockout_duration"`
	PasswordMinLength    int           `koanf:"password_min_length"`
	HistoryDepth         int           `koanf:"history_depth"`
	MaxPasswordAge       time.Duration `koanf:"max_password_age"`
	AllowUnverifiedLogin bool          `koanf:"allow_unverified_login"`
	LicensePolicy        string        `koanf:"license_policy"`
	UpstreamTimeout      time.Duration `koanf:"upstream_timeout"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
}

// MailConfig selects and configures the mail provider.
type MailConfig struct {
	// Provider is "log", "mailgun" or "smtp".
	Provider string        `koanf:"provider"`
	From     string        `koanf:"from"`
	FromName string        `koanf:"from_name"`
	BaseURL  string        `koanf:"base_url"`
	Product  string        `koanf:"product"`
	Mailgun  MailgunConfig `koanf:"mailgun"`
	SMTP     SMTPConfig    `koanf:"smtp"`
}

// MailgunConfig holds Mailgun API settings.
type MailgunConfig struct {
	Domain  string `koanf:"domain"`
	APIKey  string `koanf:"api_key"`
	APIBase string `koanf:"api_base"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	TLS      bool          `koanf:"tls"`
	Timeout  time.Duration `koanf:"timeout"`
}

// BreachConfig configures the breached-password lookup.
type BreachConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Endpoint   string        `koanf:"endpoint"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries uint64        `koanf:"max_retries"`
}

// LicenseConfig configures the license registry. An empty Endpoint
// leaves every license pending review.
type LicenseConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Mail providers.
const (
	mailProviderLog     = "log"
	mailProviderMailgun = "mailgun"
	mailProviderSMTP    = "smtp"
)

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       RateLimitConfig{Burst: httpapi.DefaultBurst, Rate: httpapi.DefaultRate},
		},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{MaxConns: 10, MinConns: 1},
		Auth: AuthConfig{
			Issuer:            auth.DefaultTokenIssuer,
			AccessTTL:         auth.DefaultAccessTokenTTL,
			RefreshTTL:        auth.DefaultRefreshTokenTTL,
			MinResponseTime:   auth.DefaultMinResponseTime,
			LockoutThreshold:  auth.DefaultLockoutThreshold,
			LockoutDuration:   auth.DefaultLockoutDuration,
			PasswordMinLength: auth.DefaultPolicyMinLength,
			HistoryDepth:      auth.DefaultHistoryDepth,
			LicensePolicy:     string(auth.LicensePolicyReview),
			UpstreamTimeout:   auth.DefaultUpstreamTimeout,
			SweepInterval:     auth.DefaultSweeperConfig().Interval,
		},
		Mail: MailConfig{
			Provider: mailProviderLog,
			Product:  "TheraNote",
			BaseURL:  "http://localhost:8080",
			SMTP:     SMTPConfig{Port: 587, TLS: true, Timeout: 10 * time.Second},
		},
		Breach: BreachConfig{
			Enabled:    true,
			Timeout:    auth.DefaultBreachTimeout,
			MaxRetries: 2,
		},
		License: LicenseConfig{Timeout: 3 * time.Second},
	}
}

// flagKeys maps command-line flags onto config keys. Flags not listed here
// are not part of the config.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
}

// loadConfig layers defaults, the optional YAML file, THERANOTE_ environment
// variables and finally explicitly set flags. Without a path the XDG config
// file is used when present.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		found, err := xdg.FindConfig()
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
		path = found
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// envKey turns THERANOTE_MAIL__SMTP__HOST into mail.smtp.host.
func envKey(name string) string {
	name = strings.TrimPrefix(name, envPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.Database.URL == "" {
		return invalid("database.url", "database URL is required (set database.url or DATABASE_URL)")
	}
	if len(c.Auth.JWTSecret) < auth.MinSigningKeyBytes {
		return invalid("auth.jwt_secret", "jwt secret must be at least %d bytes", auth.MinSigningKeyBytes)
	}
	if !auth.LicensePolicy(c.Auth.LicensePolicy).Valid() {
		return invalid("auth.license_policy", "license policy must be 'review' or 'reject', got %q", c.Auth.LicensePolicy)
	}
	if _, err := url.ParseRequestURI(c.Mail.BaseURL); err != nil {
		return invalid("mail.base_url", "mail base URL %q is not a valid URL", c.Mail.BaseURL)
	}

	switch c.Mail.Provider {
	case mailProviderLog:
	case mailProviderMailgun:
		if c.Mail.Mailgun.Domain == "" || c.Mail.Mailgun.APIKey == "" {
			return invalid("mail.mailgun", "mailgun domain and api key are required")
		}
		if c.Mail.From == "" {
			return invalid("mail.from", "mail sender address is required")
		}
	case mailProviderSMTP:
		if c.Mail.SMTP.Host == "" {
			return invalid("mail.smtp.host", "smtp host is required")
		}
		if c.Mail.From == "" {
			return invalid("mail.from", "mail sender address is required")
		}
	default:
		return invalid("mail.provider", "mail provider must be 'log', 'mailgun' or 'smtp', got %q", c.Mail.Provider)
	}
	return nil
}
