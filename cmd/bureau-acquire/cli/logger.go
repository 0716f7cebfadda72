// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a structured logger for CLI command
// operations. When stderr is a terminal, uses slog.TextHandler for
// human-readable output. When stderr is piped or redirected (CI,
// scripts), uses slog.JSONHandler for machine-parseable output.
//
// Commands that load a config file rebuild their logger from the
// configured level and format; this one covers everything before and
// around that point.
func NewCommandLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
