// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/httpapi"
	"github.com/theranote/theranote/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "theranote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func serveFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := NewServeCmd().Flags()
	require.NoError(t, flags.Parse(args))
	return flags
}

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost:5432/theranote"
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, auth.DefaultLockoutThreshold, cfg.Auth.LockoutThreshold)
	assert.Equal(t, auth.DefaultLockoutDuration, cfg.Auth.LockoutDuration)
	assert.Equal(t, auth.DefaultMinResponseTime, cfg.Auth.MinResponseTime)
	assert.Equal(t, string(auth.LicensePolicyReview), cfg.Auth.LicensePolicy)
	assert.Equal(t, mailProviderLog, cfg.Mail.Provider)
	assert.True(t, cfg.Breach.Enabled)
	assert.Equal(t, httpapi.DefaultBurst, cfg.HTTP.RateLimit.Burst)
}

func TestLoadConfig_Layers(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, strings.Join([]string{
		"log:",
		"  format: text",
		"http:",
		"  addr: \":9090\"",
		"database:",
		"  url: postgres://file/db",
		"auth:",
		"  jwt_secret: " + testSecret,
		"  lockout_duration: 30m",
		"  lockout_threshold: 7",
		"mail:",
		"  provider: smtp",
		"  smtp:",
		"    host: smtp.example.com",
		"    port: 2525",
	}, "\n"))

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := loadConfig(path, nil)
		require.NoError(t, err)

		assert.Equal(t, "text", cfg.Log.Format)
		assert.Equal(t, ":9090", cfg.HTTP.Addr)
		assert.Equal(t, "postgres://file/db", cfg.Database.URL)
		assert.Equal(t, 30*time.Minute, cfg.Auth.LockoutDuration)
		assert.Equal(t, 7, cfg.Auth.LockoutThreshold)
		assert.Equal(t, "smtp.example.com", cfg.Mail.SMTP.Host)
		assert.Equal(t, 2525, cfg.Mail.SMTP.Port)
		// Untouched keys keep their defaults.
		assert.True(t, cfg.Mail.SMTP.TLS)
		assert.Equal(t, auth.DefaultMinResponseTime, cfg.Auth.MinResponseTime)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("THERANOTE_HTTP__ADDR", ":7070")
		t.Setenv("THERANOTE_AUTH__LOCKOUT_THRESHOLD", "3")
		t.Setenv("THERANOTE_AUTH__ALLOW_UNVERIFIED_LOGIN", "true")

		cfg, err := loadConfig(path, nil)
		require.NoError(t, err)

		assert.Equal(t, ":7070", cfg.HTTP.Addr)
		assert.Equal(t, 3, cfg.Auth.LockoutThreshold)
		assert.True(t, cfg.Auth.AllowUnverifiedLogin)
	})

	t.Run("changed flags override environment", func(t *testing.T) {
		t.Setenv("THERANOTE_HTTP__ADDR", ":7070")

		cfg, err := loadConfig(path, serveFlags(t, "--http-addr", ":6060", "--auto-migrate"))
		require.NoError(t, err)

		assert.Equal(t, ":6060", cfg.HTTP.Addr)
		assert.True(t, cfg.Database.AutoMigrate)
		// Unchanged flags do not clobber lower layers.
		assert.Equal(t, "text", cfg.Log.Format)
	})
}

func TestLoadConfig_DatabaseURLFallback(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
}

func TestLoadConfig_XDGFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("DATABASE_URL", "")
	dir := filepath.Join(base, "theranote")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("http:\n  addr: \":5050\"\n"), 0o600))

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":5050", cfg.HTTP.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "auth.jwt_secret", envKey("THERANOTE_AUTH__JWT_SECRET"))
	assert.Equal(t, "mail.smtp.host", envKey("THERANOTE_MAIL__SMTP__HOST"))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantKey string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantKey: "log.format"},
		{name: "missing http addr", mutate: func(c *Config) { c.HTTP.Addr = "" }, wantKey: "http.addr"},
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }, wantKey: "database.url"},
		{name: "short jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantKey: "auth.jwt_secret"},
		{name: "unknown license policy", mutate: func(c *Config) { c.Auth.LicensePolicy = "ignore" }, wantKey: "auth.license_policy"},
		{name: "bad base url", mutate: func(c *Config) { c.Mail.BaseURL = "not a url" }, wantKey: "mail.base_url"},
		{name: "unknown mail provider", mutate: func(c *Config) { c.Mail.Provider = "carrier-pigeon" }, wantKey: "mail.provider"},
		{
			name: "mailgun without key",
			mutate: func(c *Config) {
				c.Mail.Provider = mailProviderMailgun
				c.Mail.From = "noreply@theranote.test"
				c.Mail.Mailgun.Domain = "mg.theranote.test"
			},
			wantKey: "mail.mailgun",
		},
		{
			name: "mailgun without sender",
			mutate: func(c *Config) {
				c.Mail.Provider = mailProviderMailgun
				c.Mail.Mailgun = MailgunConfig{Domain: "mg.theranote.test", APIKey: "key"}
			},
			wantKey: "mail.from",
		},
		{
			name: "smtp without host",
			mutate: func(c *Config) {
				c.Mail.Provider = mailProviderSMTP
				c.Mail.From = "noreply@theranote.test"
			},
			wantKey: "mail.smtp.host",
		},
		{
			name: "complete smtp",
			mutate: func(c *Config) {
				c.Mail.Provider = mailProviderSMTP
				c.Mail.From = "noreply@theranote.test"
				c.Mail.SMTP.Host = "smtp.theranote.test"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantKey == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.wantKey)
		})
	}
}
