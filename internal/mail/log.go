// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/theranote/theranote/internal/auth"
)

// LogSender writes messages to a logger instead of delivering them. It is
// meant for local development; links, and so tokens, appear in the log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs msg at INFO.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not delivered (log mailer)",
		"to_mask", auth.MaskEmail(msg.To),
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}
