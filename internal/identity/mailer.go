// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"log/slog"
)

// Mailer dispatches outbound email. Delivery is an external collaborator;
// the engine only depends on this contract. Registration treats send failure
// as soft (logged, signup proceeds); reset-request treats it as hard.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// LogMailer is a development Mailer that writes the message to the log
// instead of delivering it.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger falls back to slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message and reports success.
func (m *LogMailer) Send(ctx context.Context, to, subject, _ string) error {
	m.logger.InfoContext(ctx, "mail dispatched to log",
		"to", to,
		"subject", subject,
	)
	return nil
}

var _ Mailer = (*LogMailer)(nil)
