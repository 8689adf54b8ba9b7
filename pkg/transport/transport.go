// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport opens the byte-oriented links to temperature-control
// boards: a local serial port, or a WebSocket bridge that forwards the same
// line protocol.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// Default timeouts used when Options leaves them unset
const (
	DefaultReadTimeout = 50 * time.Millisecond
	DefaultOpenTimeout = 1 * time.Second
)

// Port is an open link to one device.
//
// Read blocks for at most the configured read timeout and returns (0, nil)
// when nothing arrived in that window. Flush blocks until written bytes have
// been handed to the device.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
	Flush() error
}

// Opener opens a port by name at the given baud rate
type Opener func(name string, baud int) (Port, error)

// Options configures ports created by NewOpener
type Options struct {
	ReadTimeout time.Duration
	OpenTimeout time.Duration

	// WebSocket bridge settings (ws:// and wss:// port names only)
	Username      string
	Password      string
	SkipSSLVerify bool
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	return o
}

// IsWebSocketURL reports whether a port name refers to a WebSocket bridge
func IsWebSocketURL(name string) bool {
	return strings.HasPrefix(name, "ws://") || strings.HasPrefix(name, "wss://")
}

// NewOpener returns an Opener that picks serial or WebSocket from the port name
func NewOpener(opts Options) Opener {
	opts = opts.withDefaults()
	return func(name string, baud int) (Port, error) {
		if IsWebSocketURL(name) {
			return OpenWebSocket(name, opts)
		}
		return OpenSerial(name, baud, opts)
	}
}

// Describe returns a short human-readable description of a link
func Describe(name string, baud int) string {
	if IsWebSocketURL(name) {
		return fmt.Sprintf("WebSocket: %s", name)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", name, baud)
}

// IsTimeout reports whether err is a read deadline expiring rather than a
// broken link
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// GetPassword retrieves the bridge password from the environment or prompts
// for it
func GetPassword() (string, error) {
	if pw := os.Getenv("TEMPSENSE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
