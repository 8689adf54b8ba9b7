// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the process logger
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps trace|debug|info|warn|error to a zerolog level.
// Anything else is info.
func ParseLevel(in string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New returns a console logger writing to w at the given level
func New(level string, w io.Writer) zerolog.Logger {
	return zerolog.New(
		zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr && w != os.Stdout},
	).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Open returns a logger for path. An empty path logs to stderr and "-"
// discards. The returned closer must be called on exit.
func Open(level, path string) (zerolog.Logger, io.Closer, error) {
	switch path {
	case "":
		return New(level, os.Stderr), nopCloser{}, nil
	case "-":
		return zerolog.Nop(), nopCloser{}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file: %w", err)
	}
	return New(level, f), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
