// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espcomm

import (
	"fmt"
	"strconv"
)

//////////////////////////////////////////////////////////////
// Commands (owner -> worker)
//////////////////////////////////////////////////////////////

// Command is a request from the owner to a worker
type Command interface {
	command()
}

// Connect asks the worker to open the link
type Connect struct {
	Port string
	Baud int
}

// Disconnect asks the worker to close the link. The worker exits after
// reporting Disconnected.
type Disconnect struct{}

// SendCommand asks the worker to write one line to the device
type SendCommand struct {
	Text string
}

// Stop asks the worker to close any open link and terminate
type Stop struct{}

func (Connect) command()     {}
func (Disconnect) command()  {}
func (SendCommand) command() {}
func (Stop) command()        {}

//////////////////////////////////////////////////////////////
// Status (worker -> owner)
//////////////////////////////////////////////////////////////

// Status is an event reported by a worker
type Status interface {
	status()
}

// Connected reports that the link is open
type Connected struct{}

// Disconnected reports that the link is closed. Reason may be empty.
type Disconnected struct {
	Reason string
}

// Error reports a failure that did not by itself close the link, or the
// first half of an Error+Disconnected pair when it did
type Error struct {
	Message string
}

// Message carries text received from the device, or an informational note
// from the worker
type Message struct {
	Text string
}

func (Connected) status()    {}
func (Disconnected) status() {}
func (Error) status()        {}
func (Message) status()      {}

// Reason texts reported with Disconnected
const (
	ReasonByUser        = "Disconnected by user."
	ReasonWorkerStopped = "Worker stopped."
	ReasonByWorker      = "Disconnected by worker."
)

//////////////////////////////////////////////////////////////
// Device wire protocol
//////////////////////////////////////////////////////////////

// Line terminator appended to every outbound command
const LineTerminator = "\n"

// PingCommand requests a liveness reply from the board
const PingCommand = "PING"

// SetTempCommand builds the command that sets a board's target temperature
func SetTempCommand(target int) string {
	return "setTemp " + strconv.Itoa(target)
}

// TempActiveCommand builds the command that enables or disables heating and
// cooling on a board
func TempActiveCommand(active bool) string {
	if active {
		return "tempActive 1"
	}
	return "tempActive 0"
}

// FormatStatus renders a status event for logs
func FormatStatus(s Status) string {
	switch s := s.(type) {
	case Connected:
		return "CONNECTED"
	case Disconnected:
		if s.Reason == "" {
			return "DISCONNECTED"
		}
		return fmt.Sprintf("DISCONNECTED (%s)", s.Reason)
	case Error:
		return fmt.Sprintf("ERROR: %s", s.Message)
	case Message:
		return fmt.Sprintf("MSG: %s", s.Text)
	default:
		return "UNKNOWN"
	}
}
