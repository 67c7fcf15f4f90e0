// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package mail

import (
	"context"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/samber/oops"
)

// MailgunConfig configures MailgunSender.
type MailgunConfig struct {
	Domain string
	APIKey string
	// APIBase overrides the API origin, e.g. the EU region.
	APIBase string
	From    string
}

// MailgunSender delivers through the Mailgun HTTP API.
type MailgunSender struct {
	mg   *mailgun.MailgunImpl
	from string
}

// NewMailgunSender creates a MailgunSender.
func NewMailgunSender(cfg MailgunConfig) (*MailgunSender, error) {
	if cfg.Domain == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("mailgun domain is required")
	}
	if cfg.APIKey == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("mailgun api key is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("from address is required")
	}
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}
	return &MailgunSender{mg: mg, from: cfg.From}, nil
}

// Send delivers msg. The context deadline bounds the API call.
func (s *MailgunSender) Send(ctx context.Context, msg Message) error {
	message := mailgun.NewMessage(s.from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHTML(msg.HTML)
	}
	if _, _, err := s.mg.Send(ctx, message); err != nil {
		return oops.Code("MAILGUN_SEND_FAILED").Wrap(err)
	}
	return nil
}
