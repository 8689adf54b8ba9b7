// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that could host a board",
	Long: `List the serial ports available on this machine.

USB ports are shown with their vendor and product IDs, serial number and
product name where the OS reports them. Use the port name as --port or as a
device's port in the config file.

Exit codes:
  0 - At least one port found
  1 - No ports found
  2 - Enumeration error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	fmt.Printf("Tempsense - Serial Ports\n\n")

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Detailed enumeration is not supported everywhere; fall back to names
		names, nameErr := serial.GetPortsList()
		if nameErr != nil {
			fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", nameErr)
			os.Exit(2)
		}
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		if len(names) == 0 {
			fmt.Printf("No serial ports found.\n")
			os.Exit(1)
		}
		return nil
	}

	if len(details) == 0 {
		fmt.Printf("No serial ports found.\n")
		os.Exit(1)
	}

	for _, p := range details {
		if !p.IsUSB {
			fmt.Printf("  %s\n", p.Name)
			continue
		}
		fmt.Printf("  %s  USB %s:%s", p.Name, p.VID, p.PID)
		if p.SerialNumber != "" {
			fmt.Printf("  serial=%s", p.SerialNumber)
		}
		if p.Product != "" {
			fmt.Printf("  %s", p.Product)
		}
		fmt.Println()
	}

	fmt.Printf("\n%d port(s) found\n", len(details))
	return nil
}
