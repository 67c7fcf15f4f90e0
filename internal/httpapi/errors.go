// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package httpapi

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
	"github.com/theranote/theranote/pkg/errutil"
)

// Codes produced by the HTTP layer itself.
const (
	CodeInvalidBody  = "HTTP_INVALID_BODY"
	CodeUnauthorized = "HTTP_UNAUTHORIZED"
	CodeNotFound     = "HTTP_NOT_FOUND"
	CodeInternal     = "HTTP_INTERNAL"
)

// ErrorBody is the JSON envelope of every failed request.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Reasons []string          `json:"reasons,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind auth.ErrorKind) int {
	switch kind {
	case auth.KindValidation, auth.KindInvalidToken:
		return fiber.StatusBadRequest
	case auth.KindPolicyViolation:
		return fiber.StatusUnprocessableEntity
	case auth.KindConflict:
		return fiber.StatusConflict
	case auth.KindLocked:
		return fiber.StatusLocked
	case auth.KindUnauthorized:
		return fiber.StatusUnauthorized
	case auth.KindForbidden:
		return fiber.StatusForbidden
	case auth.KindUpstreamUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as an ErrorBody. Unexpected errors are logged and
// reported without detail.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	kind := auth.KindOf(err)
	status := StatusFor(kind)
	body := ErrorBody{Code: auth.CodeOf(err)}

	switch kind {
	case auth.KindValidation:
		body.Message = "request validation failed"
		body.Fields = auth.FieldErrors(err)
	case auth.KindPolicyViolation:
		body.Message = "password does not meet requirements"
		body.Reasons = auth.PolicyReasons(err)
	case auth.KindInvalidToken:
		// Every token failure looks the same to the caller.
		body.Code = auth.CodeTokenNotFound
		body.Message = auth.MsgInvalidToken
	case auth.KindUnauthorized:
		fallback := auth.MsgInvalidCredentials
		if body.Code == auth.CodeSessionInvalid {
			fallback = "session is invalid or expired"
		}
		body.Message = oops.GetPublic(err, fallback)
	case auth.KindLocked:
		body.Message = oops.GetPublic(err, "account is temporarily locked")
		if until, ok := lockedUntil(err); ok {
			c.Set(fiber.HeaderRetryAfter, retryAfter(until, s.now()))
		}
	case auth.KindConflict, auth.KindForbidden, auth.KindUpstreamUnavailable:
		body.Message = oops.GetPublic(err, "request could not be completed")
	default:
		errutil.Log(c.UserContext(), s.logger, slog.LevelError, "request failed", err,
			"method", c.Method(),
			"path", c.Path(),
			"request_id", requestID(c))
		body.Code = CodeInternal
		body.Message = "internal server error"
	}
	return c.Status(status).JSON(errorResponse{Error: body})
}

// handleFiberError is the app-level error handler. Service errors are
// rendered by the handlers; this covers routing and body errors.
func (s *Server) handleFiberError(c *fiber.Ctx, err error) error {
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code := CodeInvalidBody
		switch ferr.Code {
		case fiber.StatusNotFound:
			code = CodeNotFound
		case fiber.StatusInternalServerError:
			code = CodeInternal
		}
		return c.Status(ferr.Code).JSON(errorResponse{Error: ErrorBody{Code: code, Message: ferr.Message}})
	}
	return s.writeError(c, err)
}

func lockedUntil(err error) (time.Time, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return time.Time{}, false
	}
	until, ok := oopsErr.Context()["locked_until"].(time.Time)
	return until, ok
}

// retryAfter formats the remaining lock time in whole seconds, at least 1.
func retryAfter(until, now time.Time) string {
	secs := math.Ceil(until.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: ErrorBody{
		Code:    CodeInvalidBody,
		Message: "request body is not valid JSON",
	}})
}
