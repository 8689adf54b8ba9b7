// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw lines received from one board",
	Long: `Continuously display every line a board sends, with a timestamp.

Connects to --port, --url, or the first configured device and prints worker
status changes and received text until the link closes or Ctrl+C is pressed.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := openDevice(a, a.cfg.Worker.OpenTimeout+5*time.Second)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("Tempsense - Raw Line Log\n")
	fmt.Printf("Connection: %s\n", d.Describe())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for ctx.Err() == nil {
		st, err := d.Next(100 * time.Millisecond)
		if err != nil {
			fmt.Println("Connection closed")
			return nil
		}
		if st == nil {
			continue
		}

		ts := time.Now().Format("15:04:05.000")
		switch st := st.(type) {
		case espcomm.Message:
			fmt.Printf("[%s] %s\n", ts, st.Text)
		case espcomm.Disconnected:
			fmt.Printf("[%s] %s\n", ts, espcomm.FormatStatus(st))
			return nil
		default:
			fmt.Printf("[%s] %s\n", ts, espcomm.FormatStatus(st))
		}
	}

	return nil
}
