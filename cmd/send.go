// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/spf13/cobra"
)

var sendTimeout int

var sendCmd = &cobra.Command{
	Use:   "send <command...>",
	Short: "Send one command line to a board and print its replies",
	Long: `Send a single command line to one board, then print every line received
until the timeout expires.

Examples:
  tempsense send --port /dev/ttyUSB0 setTemp 25
  tempsense send --url ws://bridge.local/esp tempActive 1

Exit codes:
  0 - Command sent
  1 - Send failed
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 2, "Seconds to wait for replies")
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

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

	fmt.Printf("Connection: %s\n", d.Describe())
	fmt.Printf("> %s\n", text)

	if err := d.Send(text); err != nil {
		fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(time.Duration(sendTimeout) * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		st, err := d.Next(remaining)
		if err != nil || st == nil {
			return nil
		}

		switch st := st.(type) {
		case espcomm.Message:
			for _, line := range strings.Split(st.Text, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					fmt.Printf("< %s\n", line)
				}
			}
		case espcomm.Error:
			fmt.Fprintf(os.Stderr, "SEND FAILED: %s\n", st.Message)
			os.Exit(1)
		case espcomm.Disconnected:
			fmt.Printf("%s\n", espcomm.FormatStatus(st))
			return nil
		}
	}
}
