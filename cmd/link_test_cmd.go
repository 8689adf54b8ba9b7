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

var linkTestDuration int

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test link stability without sending commands",
	Long: `Open the link to one board and just wait, logging any text received or
errors reported by the worker. Useful for debugging flaky cables and
WebSocket bridges.

Exit codes:
  0 - Link stayed open for the whole duration
  1 - Link failed during the test
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := openDevice(a, a.cfg.Worker.OpenTimeout+5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer d.Close()

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", d.Describe())
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)
	fmt.Printf("Listening for data...\n\n")

	start := time.Now()
	endTime := start.Add(time.Duration(linkTestDuration) * time.Second)
	messages := 0
	bytesReceived := 0
	errorCount := 0
	lastHeartbeat := start

	results := func(result string) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Messages received: %d\n", messages)
		fmt.Printf("Bytes received: %d\n", bytesReceived)
		fmt.Printf("Errors: %d\n", errorCount)
		fmt.Printf("Result: %s\n", result)
	}

	for time.Now().Before(endTime) {
		st, err := d.Next(100 * time.Millisecond)
		if err != nil {
			results("FAILED (worker exited)")
			os.Exit(1)
		}

		ts := time.Now().Format("15:04:05.000")
		switch st := st.(type) {
		case espcomm.Message:
			messages++
			bytesReceived += len(st.Text)
			fmt.Printf("[%s] Received %d bytes: %q\n", ts, len(st.Text), st.Text)
		case espcomm.Error:
			errorCount++
			fmt.Printf("[%s] Link error: %s\n", ts, st.Message)
		case espcomm.Disconnected:
			fmt.Printf("\n[%s] %s\n", ts, espcomm.FormatStatus(st))
			results("FAILED (link closed)")
			os.Exit(1)
		}

		if time.Since(lastHeartbeat) >= time.Second {
			lastHeartbeat = time.Now()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				lastHeartbeat.Format("15:04:05.000"), time.Until(endTime).Seconds())
		}
	}

	results("PASSED (link stable)")
	return nil
}
