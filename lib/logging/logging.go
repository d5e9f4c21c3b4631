// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers used by the tunnel binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format selects the slog handler.
type Format string

const (
	// Auto uses Text when the output is a terminal and JSON otherwise.
	Auto Format = "auto"
	Text Format = "text"
	JSON Format = "json"
)

// ParseLevel parses debug, info, warn or error (case-insensitive). An
// empty string is info.
func ParseLevel(value string) (slog.Level, error) {
	if value == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", value, err)
	}
	return level, nil
}

// New creates a logger writing to output. When output is a terminal,
// Auto selects slog.TextHandler for human-readable output; when it is
// piped or redirected (systemd, containers, supervisors), JSON.
//
// Callers scope the logger with component context via With():
//
//	logger := logging.New(os.Stderr, level, logging.Auto).With("component", "bridge")
func New(output io.Writer, level slog.Level, format Format) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == "" || format == Auto {
		format = JSON
		if isTerminal(output) {
			format = Text
		}
	}

	var handler slog.Handler
	if format == Text {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler)
}

func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
