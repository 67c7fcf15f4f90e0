// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/auth/postgres"
	"github.com/theranote/theranote/internal/breach"
	"github.com/theranote/theranote/internal/httpapi"
	"github.com/theranote/theranote/internal/license"
	"github.com/theranote/theranote/internal/logging"
	"github.com/theranote/theranote/internal/mail"
	"github.com/theranote/theranote/internal/observability"
	"github.com/theranote/theranote/internal/store"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	def := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API server",
		Long: `Start the HTTP API for registration, login, email verification
and password resets, plus the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	cmd.Flags().String("http-addr", def.HTTP.Addr, "public API listen address")
	cmd.Flags().String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", def.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("database-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending migrations before serving")

	return cmd
}

// services are the account services built from one configuration.
type services struct {
	registration *auth.RegistrationService
	login        *auth.LoginService
	passwords    *auth.PasswordResetService
	sweeper      *auth.TokenSweeper
}

// buildServices wires repositories, collaborators and services.
func buildServices(cfg *Config, db postgres.DB, sender mail.Sender, metrics auth.MetricsRecorder, logger *slog.Logger) (*services, error) {
	identities := postgres.NewIdentityRepository(db)
	failures := postgres.NewFailureRepository(db)
	history := postgres.NewPasswordHistoryRepository(db)
	tokens := postgres.NewTokenRepository(db)
	refresh := postgres.NewRefreshTokenRepository(db)

	audit, err := auth.NewAuditLogger(postgres.NewAuditRepository(db), logger)
	if err != nil {
		return nil, err
	}

	hasher := auth.NewArgon2idHasher()
	floor := auth.NewLatencyFloor(cfg.Auth.MinResponseTime)

	var breachChecker auth.BreachChecker
	if cfg.Breach.Enabled {
		breachChecker = breach.NewClient(breach.Config{
			Endpoint:   cfg.Breach.Endpoint,
			Timeout:    cfg.Breach.Timeout,
			MaxRetries: cfg.Breach.MaxRetries,
			UserAgent:  "theranote/" + version,
		})
	}
	policy, err := auth.NewPolicyEngineWithLogger(hasher, history, breachChecker, auth.PolicyConfig{
		MinLength:     cfg.Auth.PasswordMinLength,
		HistoryDepth:  cfg.Auth.HistoryDepth,
		BreachTimeout: cfg.Breach.Timeout,
	}, logger, metrics)
	if err != nil {
		return nil, err
	}

	lockout, err := auth.NewLockoutTracker(failures, auth.LockoutConfig{
		Threshold: cfg.Auth.LockoutThreshold,
		Duration:  cfg.Auth.LockoutDuration,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := auth.NewSessionIssuer(refresh, identities, auth.SessionConfig{
		SigningKey: []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	verification, err := auth.NewTokenIssuer(tokens, auth.PurposeEmailVerification, 0, nil)
	if err != nil {
		return nil, err
	}
	resets, err := auth.NewTokenIssuer(tokens, auth.PurposePasswordReset, 0, nil)
	if err != nil {
		return nil, err
	}

	mailer, err := mail.NewMailer(sender, cfg.Mail.BaseURL, cfg.Mail.Product)
	if err != nil {
		return nil, err
	}

	var licenses auth.LicenseVerifier
	if cfg.License.Endpoint != "" {
		licenses = license.NewRegistry(license.Config{
			Endpoint: cfg.License.Endpoint,
			APIKey:   cfg.License.APIKey,
			Timeout:  cfg.License.Timeout,
			Logger:   logger,
		})
	}

	registration, err := auth.NewRegistrationService(auth.RegistrationDeps{
		Identities:      identities,
		Hasher:          hasher,
		Policy:          policy,
		Verification:    verification,
		Licenses:        licenses,
		Mailer:          mailer,
		Audit:           audit,
		Floor:           floor,
		Logger:          logger,
		Metrics:         metrics,
		LicensePolicy:   auth.LicensePolicy(cfg.Auth.LicensePolicy),
		UpstreamTimeout: cfg.Auth.UpstreamTimeout,
	})
	if err != nil {
		return nil, err
	}

	login, err := auth.NewLoginService(auth.LoginDeps{
		Identities:           identities,
		Hasher:               hasher,
		Lockout:              lockout,
		Sessions:             sessions,
		Audit:                audit,
		Floor:                floor,
		Logger:               logger,
		Metrics:              metrics,
		MaxPasswordAge:       cfg.Auth.MaxPasswordAge,
		AllowUnverifiedLogin: cfg.Auth.AllowUnverifiedLogin,
	})
	if err != nil {
		return nil, err
	}

	passwords, err := auth.NewPasswordResetService(auth.PasswordResetDeps{
		Identities:      identities,
		Hasher:          hasher,
		Policy:          policy,
		Resets:          resets,
		Lockout:         lockout,
		Sessions:        sessions,
		Mailer:          mailer,
		Audit:           audit,
		Floor:           floor,
		Logger:          logger,
		Metrics:         metrics,
		UpstreamTimeout: cfg.Auth.UpstreamTimeout,
	})
	if err != nil {
		return nil, err
	}

	sweeper := auth.NewTokenSweeper(auth.SweeperConfig{
		Interval: cfg.Auth.SweepInterval,
		Grace:    auth.DefaultSweeperConfig().Grace,
	}, map[string]auth.ExpiredDeleter{
		"verification_tokens": tokens,
		"refresh_tokens":      refresh,
	}, logger)

	return &services{
		registration: registration,
		login:        login,
		passwords:    passwords,
		sweeper:      sweeper,
	}, nil
}

// newMailSender returns the delivery backend selected by cfg.Provider.
func newMailSender(cfg MailConfig, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.Provider {
	case mailProviderMailgun:
		return mail.NewMailgunSender(mail.MailgunConfig{
			Domain:  cfg.Mailgun.Domain,
			APIKey:  cfg.Mailgun.APIKey,
			APIBase: cfg.Mailgun.APIBase,
			From:    cfg.From,
		})
	case mailProviderSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.From,
			FromName: cfg.FromName,
			TLS:      cfg.SMTP.TLS,
			Timeout:  cfg.SMTP.Timeout,
		})
	case mailProviderLog, "":
		logger.Warn("using log mailer; emails are written to the log and not delivered")
		return mail.NewLogSender(logger), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("provider", cfg.Provider).Errorf("unknown mail provider")
	}
}

func runServe(ctx context.Context, cfg *Config, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.SetDefault(logging.Options{
		Service: "theranote",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   logging.ParseLevel(cfg.Log.Level),
	})
	logger.Info("starting theranote",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"mail_provider", cfg.Mail.Provider)

	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	poolCfg := store.DefaultPoolConfig()
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		poolCfg.MinConns = cfg.Database.MinConns
	}
	pool, err := store.OpenPool(ctx, cfg.Database.URL, poolCfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	obsServer := observability.NewServer(cfg.Metrics.Addr, pool.Ping, logger)

	sender, err := newMailSender(cfg.Mail, logger)
	if err != nil {
		return err
	}
	svc, err := buildServices(cfg, pool, sender, obsServer.AuthMetrics(), logger)
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	var limiter *httpapi.RateLimiter
	if cfg.HTTP.RateLimit.Burst > 0 {
		limiter = httpapi.NewRateLimiter(httpapi.RateLimiterConfig{
			Burst:      cfg.HTTP.RateLimit.Burst,
			Rate:       cfg.HTTP.RateLimit.Rate,
			Registerer: obsServer.Registry(),
		})
		defer limiter.Close()
	}

	api, err := httpapi.NewServer(httpapi.Config{
		Registration: svc.registration,
		Sessions:     svc.login,
		Passwords:    svc.passwords,
		Metrics:      obsServer.HTTPMetrics(),
		RateLimiter:  limiter,
		Logger:       logger,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	})
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	svc.sweeper.Start(ctx)
	defer svc.sweeper.Stop()

	apiErrCh := make(chan error, 1)
	go func() {
		if err := api.Listen(cfg.HTTP.Addr); err != nil {
			apiErrCh <- err
		}
		close(apiErrCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("TheraNote API started")
	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-apiErrCh:
		if ok {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping API server", "error", err)
	}
	if err := obsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// monitorServerErrors cancels ctx when a background server fails. It
// returns when the channel is closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
