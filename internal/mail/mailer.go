// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package mail renders account emails and delivers them through Mailgun,
// SMTP or the log.
package mail

import (
	"context"
	"net/url"
	"strings"

	"github.com/samber/oops"

	"github.com/theranote/theranote/internal/auth"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var _ auth.Mailer = (*Mailer)(nil)

// Mailer implements auth.Mailer by rendering templates and handing the
// result to a Sender.
type Mailer struct {
	sender  Sender
	baseURL string
	product string
}

// NewMailer creates a Mailer. baseURL is the public origin used in links.
func NewMailer(sender Sender, baseURL, product string) (*Mailer, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("sender is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").With("base_url", baseURL).Wrap(err)
	}
	if product == "" {
		product = "TheraNote"
	}
	return &Mailer{sender: sender, baseURL: strings.TrimSuffix(baseURL, "/"), product: product}, nil
}

// SendVerificationEmail sends the address-confirmation link.
func (m *Mailer) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	return m.send(ctx, email, verificationTemplate, templateData{
		Name: name,
		Link: m.link("/auth/verify-email", token),
	})
}

// SendWelcomeEmail confirms an activated account.
func (m *Mailer) SendWelcomeEmail(ctx context.Context, email, name string) error {
	return m.send(ctx, email, welcomeTemplate, templateData{
		Name: name,
		Link: m.baseURL + "/login",
	})
}

// SendPasswordResetEmail sends the reset link.
func (m *Mailer) SendPasswordResetEmail(ctx context.Context, email, name, token string) error {
	return m.send(ctx, email, resetTemplate, templateData{
		Name: name,
		Link: m.link("/reset-password", token),
	})
}

func (m *Mailer) link(path, token string) string {
	return m.baseURL + path + "?" + url.Values{"token": {token}}.Encode()
}

func (m *Mailer) send(ctx context.Context, to string, tmpl *emailTemplate, data templateData) error {
	data.Product = m.product
	msg, err := tmpl.render(to, data)
	if err != nil {
		return err
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("template", tmpl.name).Wrap(err)
	}
	return nil
}
