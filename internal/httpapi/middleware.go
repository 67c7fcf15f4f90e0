// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/theranote/theranote/internal/auth"
)

const claimsKey = "auth.claims"

// observe records request count and latency per route template.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := s.handleFiberError(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError) //nolint:errcheck // nothing left to report to
		}
	}
	if s.metrics == nil {
		return nil
	}
	route := c.Route().Path
	status := strconv.Itoa(c.Response().StatusCode())
	s.metrics.RequestsTotal.WithLabelValues(route, status).Inc()
	s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	return nil
}

// requireBearer rejects requests without a valid access token and stores
// the claims for the handler.
func (s *Server) requireBearer(c *fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return unauthorized(c)
	}
	claims, err := s.sessions.VerifyAccessToken(strings.TrimSpace(token))
	if err != nil {
		return unauthorized(c)
	}
	c.Locals(claimsKey, claims)
	return c.Next()
}

func unauthorized(c *fiber.Ctx) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="theranote"`)
	return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: ErrorBody{
		Code:    CodeUnauthorized,
		Message: "missing or invalid access token",
	}})
}

func claimsFrom(c *fiber.Ctx) (*auth.AccessClaims, bool) {
	claims, ok := c.Locals(claimsKey).(*auth.AccessClaims)
	return claims, ok
}

func requestMeta(c *fiber.Ctx) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: c.IP(),
		UserAgent: string(c.Request().Header.UserAgent()),
	}
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}
