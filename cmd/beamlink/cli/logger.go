// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a structured logger for CLI operations.
// When stderr is a terminal, it uses slog.TextHandler for
// human-readable output; when stderr is piped or redirected, it uses
// slog.JSONHandler for machine-parseable output.
func NewCommandLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// PromptHiddenPIN reads a PIN from the terminal without echoing it.
// Returns false when stdin is not a terminal or the read fails, which
// callers treat as a decline.
func PromptHiddenPIN(prompt string) (string, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false
	}
	os.Stderr.WriteString(prompt)
	pin, err := term.ReadPassword(fd)
	os.Stderr.WriteString("\n")
	if err != nil {
		return "", false
	}
	return string(pin), true
}
