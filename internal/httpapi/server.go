// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package httpapi exposes the account services over JSON HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/internal/observability"
)

// Registrar creates and verifies accounts.
type Registrar interface {
	Register(ctx context.Context, in auth.RegistrationInput, meta auth.RequestMeta) (*auth.RegistrationResult, error)
	VerifyEmail(ctx context.Context, token string, meta auth.RequestMeta) (*auth.Identity, error)
	ResendVerification(ctx context.Context, email string, meta auth.RequestMeta) error
}

// Authenticator manages sessions.
type Authenticator interface {
	Login(ctx context.Context, in auth.LoginInput, meta auth.RequestMeta) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta auth.RequestMeta) (*auth.LoginResult, error)
	Logout(ctx context.Context, refreshToken string, meta auth.RequestMeta) error
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// PasswordManager handles password recovery and changes.
type PasswordManager interface {
	RequestReset(ctx context.Context, email string, meta auth.RequestMeta) error
	ResetPassword(ctx context.Context, token, newPassword, confirm string, meta auth.RequestMeta) error
	ChangePassword(ctx context.Context, identityID ulid.ULID, current, newPassword, confirm string, meta auth.RequestMeta) error
}

var (
	_ Registrar       = (*auth.RegistrationService)(nil)
	_ Authenticator   = (*auth.LoginService)(nil)
	_ PasswordManager = (*auth.PasswordResetService)(nil)
)

// Config holds the collaborators and limits of a Server.
type Config struct {
	Registration Registrar
	Sessions     Authenticator
	Passwords    PasswordManager
	// Metrics is optional.
	Metrics *observability.HTTPMetrics
	// RateLimiter throttles the unauthenticated write endpoints when set.
	RateLimiter *RateLimiter
	Logger      *slog.Logger
	// BodyLimit defaults to 64 KiB.
	BodyLimit    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Server is the public account API.
type Server struct {
	app          *fiber.App
	registration Registrar
	sessions     Authenticator
	passwords    PasswordManager
	metrics      *observability.HTTPMetrics
	limiter      *RateLimiter
	logger       *slog.Logger
	now          func() time.Time
}

// NewServer validates cfg and builds the route table.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Registration == nil:
		return nil, oops.Errorf("registration service is required")
	case cfg.Sessions == nil:
		return nil, oops.Errorf("login service is required")
	case cfg.Passwords == nil:
		return nil, oops.Errorf("password service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 64 * 1024
	}

	s := &Server{
		registration: cfg.Registration,
		sessions:     cfg.Sessions,
		passwords:    cfg.Passwords,
		metrics:      cfg.Metrics,
		limiter:      cfg.RateLimiter,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "theranote",
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleFiberError,
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.observe)

	g := s.app.Group("/auth")
	g.Post("/register", s.limit, s.handleRegister)
	g.Get("/verify-email", s.handleVerifyEmail)
	g.Post("/resend-verification", s.limit, s.handleResendVerification)
	g.Post("/login", s.limit, s.handleLogin)
	g.Post("/refresh", s.handleRefresh)
	g.Post("/logout", s.handleLogout)
	g.Post("/password/forgot", s.limit, s.handleForgotPassword)
	g.Post("/password/reset", s.limit, s.handleResetPassword)
	g.Post("/password/change", s.requireBearer, s.handleChangePassword)

	s.app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "route not found")
	})
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	if err := s.app.Listen(addr); err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
