// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var healthWait time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the AI Router service health",
	Long: `Probes the compliance service and prints its status.

With --wait, blocks until the service reports healthy or the wait
budget runs out, polling every 2 seconds.

Examples:
  prepctl health
  prepctl health --wait 60s`,
	RunE: runHealthCommand,
}

func init() {
	healthCmd.Flags().DurationVar(&healthWait, "wait", 0,
		"Block until the service is healthy, up to this duration")
	rootCmd.AddCommand(healthCmd)
}

func runHealthCommand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if healthWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, healthWait)
		defer cancel()
		fmt.Printf("Waiting up to %s for %s ...\n", healthWait, cfg.API.BaseURL)
		if !client.Health().WaitForService(waitCtx) {
			return fmt.Errorf("service did not become healthy within %s", healthWait)
		}
	}

	status, err := client.Health().CheckHealth(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Service:  %s\n", status.BaseURL)
	fmt.Printf("Status:   %s\n", status.Status)
	if status.Version != "" {
		fmt.Printf("Version:  %s\n", status.Version)
	}
	fmt.Printf("Checked:  %s\n", status.CheckedAt.Format(time.RFC3339))

	if !status.Healthy {
		os.Exit(1)
	}
	return nil
}
