// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test a board link by sending PING and waiting for a reply",
	Long: `Send PING to one board and wait for any line in reply.

This is useful for verifying:
  - The serial port or WebSocket bridge opens
  - HTTP Basic authentication works (WebSocket only)
  - The board firmware is running and answering commands

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := openDevice(a, a.cfg.Worker.OpenTimeout+time.Duration(pingTimeout)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer d.Close()

	fmt.Printf("Tempsense - Ping Test\n")
	fmt.Printf("Connection: %s\n", d.Describe())
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := d.Send(espcomm.PingCommand); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			break
		}

		reply, err := waitReply(d, time.Duration(pingTimeout)*time.Second)
		switch {
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		case reply == "":
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("reply %q, rtt=%v\n", reply, time.Since(startTime).Round(time.Millisecond))
			successCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// waitReply returns the first line received within timeout, or "" if none.
// Link errors and disconnects are returned as errors.
func waitReply(d *device, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", nil
		}

		st, err := d.Next(remaining)
		if err != nil {
			return "", err
		}

		switch st := st.(type) {
		case nil:
			return "", nil
		case espcomm.Message:
			return st.Text, nil
		case espcomm.Error:
			return "", fmt.Errorf("%s", st.Message)
		case espcomm.Disconnected:
			return "", fmt.Errorf("disconnected: %s", st.Reason)
		}
	}
}
