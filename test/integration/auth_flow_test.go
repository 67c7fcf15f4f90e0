// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/theranote/theranote/internal/auth"
)

// call sends a JSON request through the API and decodes the response body.
func call(method, path string, body any, headers map[string]string) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := env.api.App().Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	out := map[string]any{}
	if len(raw) > 0 {
		Expect(json.Unmarshal(raw, &out)).To(Succeed(), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func registerVerified(ctx context.Context, email, license string) {
	_, err := env.registration.Register(ctx, registrationFor(email, license), auth.RequestMeta{})
	Expect(err).NotTo(HaveOccurred())
	token := env.mailer.lastToken("verification", email)
	Expect(token).NotTo(BeEmpty())
	_, err = env.registration.VerifyEmail(ctx, token, auth.RequestMeta{})
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("Account lifecycle over HTTP", func() {
	It("registers, verifies, logs in, refreshes and logs out", func() {
		const email = "flow@example.com"

		status, body := call(http.MethodPost, "/auth/register", registrationFor(email, "FLOW-1001"), nil)
		Expect(status).To(Equal(fiber.StatusCreated), fmt.Sprint(body))

		status, body = call(http.MethodPost, "/auth/login",
			map[string]string{"email": email, "password": strongPassword}, nil)
		Expect(status).To(Equal(fiber.StatusUnauthorized), "unverified accounts cannot log in")
		Expect(errorCode(body)).To(Equal(auth.CodeInvalidCredentials))

		token := env.mailer.lastToken("verification", email)
		Expect(token).NotTo(BeEmpty())
		status, body = call(http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil, nil)
		Expect(status).To(Equal(fiber.StatusOK), fmt.Sprint(body))
		Expect(body["status"]).To(Equal(string(auth.StatusActive)))

		status, body = call(http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil, nil)
		Expect(status).To(Equal(fiber.StatusBadRequest))
		Expect(errorCode(body)).To(Equal(auth.CodeTokenNotFound))

		status, body = call(http.MethodPost, "/auth/login",
			map[string]string{"email": "FLOW@example.com", "password": strongPassword}, nil)
		Expect(status).To(Equal(fiber.StatusOK), fmt.Sprint(body))
		access, _ := body["access_token"].(string)
		firstRefresh, _ := body["refresh_token"].(string)
		Expect(access).NotTo(BeEmpty())
		Expect(firstRefresh).NotTo(BeEmpty())

		status, body = call(http.MethodPost, "/auth/refresh",
			map[string]string{"refresh_token": firstRefresh}, nil)
		Expect(status).To(Equal(fiber.StatusOK), fmt.Sprint(body))
		rotated, _ := body["refresh_token"].(string)
		Expect(rotated).NotTo(Equal(firstRefresh))

		status, _ = call(http.MethodPost, "/auth/refresh",
			map[string]string{"refresh_token": firstRefresh}, nil)
		Expect(status).To(Equal(fiber.StatusUnauthorized), "rotated tokens are single use")

		status, _ = call(http.MethodPost, "/auth/logout",
			map[string]string{"refresh_token": rotated}, nil)
		Expect(status).To(Equal(fiber.StatusNoContent))

		status, _ = call(http.MethodPost, "/auth/refresh",
			map[string]string{"refresh_token": rotated}, nil)
		Expect(status).To(Equal(fiber.StatusUnauthorized))
	})

	It("resets a forgotten password and rejects the old one", func() {
		ctx := context.Background()
		const email = "reset@example.com"
		registerVerified(ctx, email, "RESET-2002")

		status, _ := call(http.MethodPost, "/auth/password/forgot", map[string]string{"email": email}, nil)
		Expect(status).To(Equal(fiber.StatusAccepted))
		status, _ = call(http.MethodPost, "/auth/password/forgot", map[string]string{"email": "nobody@example.com"}, nil)
		Expect(status).To(Equal(fiber.StatusAccepted))

		token := env.mailer.lastToken("reset", email)
		Expect(token).NotTo(BeEmpty())

		status, body := call(http.MethodPost, "/auth/password/reset", map[string]string{
			"token": token, "password": strongPassword, "confirm_password": strongPassword,
		}, nil)
		Expect(status).To(Equal(fiber.StatusUnprocessableEntity), "current password is in history")
		Expect(errorCode(body)).To(Equal(auth.CodePolicyViolation))

		const next = "amber-meadow-violin-83"
		status, body = call(http.MethodPost, "/auth/password/reset", map[string]string{
			"token": token, "password": next, "confirm_password": next,
		}, nil)
		Expect(status).To(Equal(fiber.StatusNoContent), fmt.Sprint(body))

		_, err := env.login.Login(ctx, auth.LoginInput{Email: email, Password: strongPassword}, auth.RequestMeta{})
		Expect(auth.KindOf(err)).To(Equal(auth.KindUnauthorized))
		_, err = env.login.Login(ctx, auth.LoginInput{Email: email, Password: next}, auth.RequestMeta{})
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Concurrent abuse", func() {
	It("locks the account under a parallel password guessing burst", func() {
		ctx := context.Background()
		const email = "burst@example.com"
		registerVerified(ctx, email, "BURST-3003")

		const attempts = 10
		kinds := make([]auth.ErrorKind, attempts)
		var wg sync.WaitGroup
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := env.login.Login(ctx, auth.LoginInput{Email: email, Password: "wrong-guess-0000"}, auth.RequestMeta{})
				kinds[i] = auth.KindOf(err)
			}()
		}
		wg.Wait()

		Expect(kinds).To(ContainElement(auth.KindLocked))
		Expect(kinds).NotTo(ContainElement(auth.KindUnexpected))

		_, err := env.login.Login(ctx, auth.LoginInput{Email: email, Password: strongPassword}, auth.RequestMeta{})
		Expect(auth.KindOf(err)).To(Equal(auth.KindLocked), "the correct password does not bypass the lock")
	})

	It("redeems a verification token exactly once under contention", func() {
		ctx := context.Background()
		const email = "race@example.com"
		_, err := env.registration.Register(ctx, registrationFor(email, "RACE-4004"), auth.RequestMeta{})
		Expect(err).NotTo(HaveOccurred())
		token := env.mailer.lastToken("verification", email)
		Expect(token).NotTo(BeEmpty())

		const callers = 10
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, errs[i] = env.registration.VerifyEmail(ctx, token, auth.RequestMeta{})
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			Expect(auth.KindOf(err)).To(Equal(auth.KindInvalidToken))
		}
		Expect(succeeded).To(Equal(1))
	})

	It("rejects a second account with the same license", func() {
		ctx := context.Background()
		_, err := env.registration.Register(ctx, registrationFor("first@example.com", "DUP-5005"), auth.RequestMeta{})
		Expect(err).NotTo(HaveOccurred())

		_, err = env.registration.Register(ctx, registrationFor("second@example.com", " DUP-5005 "), auth.RequestMeta{})
		Expect(auth.KindOf(err)).To(Equal(auth.KindConflict))
		Expect(auth.CodeOf(err)).To(Equal(auth.CodeLicenseTaken))
	})
})
