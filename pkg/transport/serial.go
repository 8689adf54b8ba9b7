// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// SerialPort wraps a go.bug.st serial port
type SerialPort struct {
	port serial.Port
}

func (s *SerialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Flush waits until all written bytes have left the output buffer
func (s *SerialPort) Flush() error {
	return s.port.Drain()
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

// OpenSerial opens a serial port at 8N1 with a bounded read timeout
func OpenSerial(name string, baud int, opts Options) (*SerialPort, error) {
	opts = opts.withDefaults()
	if baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", baud)
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %s", name, describeSerialError(err))
	}

	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	return &SerialPort{port: port}, nil
}

// describeSerialError turns serial.PortError codes into readable reasons
func describeSerialError(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err.Error()
	}

	switch portErr.Code() {
	case serial.PortNotFound:
		return "port not found"
	case serial.PortBusy:
		return "port busy (in use by another program)"
	case serial.PermissionDenied:
		return "permission denied"
	case serial.InvalidSpeed:
		return "unsupported baud rate"
	case serial.PortClosed:
		return "port closed"
	default:
		return portErr.EncodedErrorString()
	}
}
