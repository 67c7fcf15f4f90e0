// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/theranote/theranote/internal/auth"
)

type identityResponse struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	GivenName     string             `json:"given_name"`
	FamilyName    string             `json:"family_name"`
	Role          auth.Role          `json:"role"`
	Status        auth.Status        `json:"status"`
	LicenseStatus auth.LicenseStatus `json:"license_status"`
}

func newIdentityResponse(i *auth.Identity) identityResponse {
	return identityResponse{
		ID:            i.ID.String(),
		Email:         i.Email,
		GivenName:     i.GivenName,
		FamilyName:    i.FamilyName,
		Role:          i.Role,
		Status:        i.Status,
		LicenseStatus: i.License.Status,
	}
}

type registerResponse struct {
	Identity              identityResponse   `json:"identity"`
	LicenseStatus         auth.LicenseStatus `json:"license_status"`
	VerificationExpiresAt *time.Time         `json:"verification_expires_at,omitempty"`
}

type sessionResponse struct {
	AccessToken            string           `json:"access_token"`
	TokenType              string           `json:"token_type"`
	AccessExpiresAt        time.Time        `json:"access_expires_at"`
	RefreshToken           string           `json:"refresh_token"`
	RefreshExpiresAt       time.Time        `json:"refresh_expires_at"`
	PasswordChangeRequired bool             `json:"password_change_required"`
	Identity               identityResponse `json:"identity"`
}

func newSessionResponse(res *auth.LoginResult) sessionResponse {
	return sessionResponse{
		AccessToken:            res.Tokens.AccessToken,
		TokenType:              "Bearer",
		AccessExpiresAt:        res.Tokens.AccessExpiresAt,
		RefreshToken:           res.Tokens.RefreshToken,
		RefreshExpiresAt:       res.Tokens.RefreshExpiresAt,
		PasswordChangeRequired: res.PasswordChangeRequired,
		Identity:               newIdentityResponse(res.Identity),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type changeRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var in auth.RegistrationInput
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	res, err := s.registration.Register(c.UserContext(), in, requestMeta(c))
	if err != nil {
		return s.writeError(c, err)
	}
	out := registerResponse{
		Identity:      newIdentityResponse(res.Identity),
		LicenseStatus: res.LicenseStatus,
	}
	if !res.VerificationExpiresAt.IsZero() {
		out.VerificationExpiresAt = &res.VerificationExpiresAt
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (s *Server) handleVerifyEmail(c *fiber.Ctx) error {
	identity, err := s.registration.VerifyEmail(c.UserContext(), c.Query("token"), requestMeta(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(newIdentityResponse(identity))
}

// Resend and forgot answer the same way whether or not the address is known.
const acceptedMessage = "if the address belongs to an account, an email is on its way"

func (s *Server) handleResendVerification(c *fiber.Ctx) error {
	var in emailRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if err := s.registration.ResendVerification(c.UserContext(), in.Email, requestMeta(c)); err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(messageResponse{Message: acceptedMessage})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var in loginRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	res, err := s.sessions.Login(c.UserContext(), auth.LoginInput{Email: in.Email, Password: in.Password}, requestMeta(c))
	if err != nil {
		return s.writeError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(newSessionResponse(res))
}

func (s *Server) handleRefresh(c *fiber.Ctx) error {
	var in refreshRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	res, err := s.sessions.Refresh(c.UserContext(), in.RefreshToken, requestMeta(c))
	if err != nil {
		return s.writeError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(newSessionResponse(res))
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	var in refreshRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if err := s.sessions.Logout(c.UserContext(), in.RefreshToken, requestMeta(c)); err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleForgotPassword(c *fiber.Ctx) error {
	var in emailRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if err := s.passwords.RequestReset(c.UserContext(), in.Email, requestMeta(c)); err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(messageResponse{Message: acceptedMessage})
}

func (s *Server) handleResetPassword(c *fiber.Ctx) error {
	var in resetRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	err := s.passwords.ResetPassword(c.UserContext(), in.Token, in.Password, in.ConfirmPassword, requestMeta(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleChangePassword(c *fiber.Ctx) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return unauthorized(c)
	}
	identityID, err := claims.IdentityID()
	if err != nil {
		return unauthorized(c)
	}
	var in changeRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	err = s.passwords.ChangePassword(c.UserContext(), identityID, in.CurrentPassword, in.Password, in.ConfirmPassword, requestMeta(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
