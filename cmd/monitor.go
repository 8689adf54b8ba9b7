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
	"github.com/Thermoquad/tempsense/pkg/telemetry"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
)

var (
	monitorErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	monitorWarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	monitorOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Validate telemetry from one board and report anomalies",
	Long: `Parse every telemetry line a board sends and track anomalies with statistics.

This command detects:
  - Unparseable values for known keys (skin_temperature, exterior_temperature)
  - Temperatures outside the plausible sensor range
  - Statistics and trends (line rate, error rate, parse rate)

By default, only anomalies are displayed. Use --show-all to display valid
readings too. Periodic statistics summaries are printed at --stats-interval.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all readings (not just anomalies)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

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

	fmt.Printf("Tempsense - Telemetry Monitor\n")
	fmt.Printf("Connection: %s\n", d.Describe())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All readings\n")
	} else {
		fmt.Printf("Mode: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := telemetry.NewStatistics()
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		default:
		}

		st, err := d.Next(100 * time.Millisecond)
		if err != nil {
			fmt.Println("Connection closed")
			return nil
		}

		switch st := st.(type) {
		case espcomm.Message:
			for _, line := range telemetry.SplitLines(st.Text) {
				r := telemetry.Parse(d.target.Label, line)
				anomalies := telemetry.ValidateReading(r)
				stats.Update(r, anomalies)
				printReading(r, anomalies)
			}
		case espcomm.Error:
			fmt.Printf("[%s] %s %s\n\n", time.Now().Format("15:04:05.000"), monitorErrorStyle.Render("LINK ERROR:"), st.Message)
		case espcomm.Disconnected:
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), espcomm.FormatStatus(st))
			fmt.Print(stats.String())
			return nil
		}
	}
}

// printReading prints anomalies in highlighted form, and valid readings when
// --show-all is set
func printReading(r telemetry.Reading, anomalies []telemetry.ValidationError) {
	if len(anomalies) == 0 {
		if showAll && r.OK() {
			fmt.Print(telemetry.FormatReading(r))
		}
		return
	}

	timestamp := r.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] %s %s\n", timestamp, monitorWarningStyle.Render("ANOMALY:"), r.Device)

	for i, a := range anomalies {
		style := monitorWarningStyle
		if a.Type == telemetry.ANOMALY_PARSE_FAILURE {
			style = monitorErrorStyle
		}
		fmt.Printf("  Issue %d: %s\n", i+1, style.Render(a.Message))
		fmt.Printf("    %s\n", telemetry.FormatAnomaly(a))
	}

	if r.OK() {
		fmt.Printf("  Parsed: %s\n", monitorOKStyle.Render(fmt.Sprintf("%d field(s)", len(r.Fields))))
	}
	fmt.Println()
}
