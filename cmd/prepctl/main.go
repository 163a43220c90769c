// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command prepctl drives the Proposal Prepper client stack from the
// terminal: health probing, document upload, compliance analysis and
// results retrieval against a real or mock AI Router backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/pkg/logging"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

var (
	cfg        config.Config
	client     *router.Client
	logger     *logging.Logger
	configPath string
	baseURL    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "prepctl",
	Short: "Proposal Prepper compliance analysis CLI",
	Long: `prepctl talks to the AI Router compliance service.

Examples:
  prepctl health                       # probe the service
  prepctl health --wait 60s            # block until it comes up
  prepctl upload proposal.pdf          # upload a document
  prepctl analyze prop-1               # run an analysis to completion
  prepctl results prop-1 --export csv  # export the report`,
	SilenceUsage: true,
}

// mockBaseURL is where cmd/mockrouter listens by default.
const mockBaseURL = "http://localhost:8080"

// resolveBaseURL picks the service root: an explicit --base-url wins,
// then use_mock redirects at the local mock backend, then the
// configured URL stands.
func resolveBaseURL(cfg config.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.API.UseMock {
		return mockBaseURL
	}
	return cfg.API.BaseURL
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Override the AI Router base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.API.BaseURL = resolveBaseURL(cfg, baseURL)

		level := logging.LevelWarn
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{Level: level, Service: "prepctl"})
		client = router.New(cfg, router.WithLogger(logger))
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if client != nil {
			client.Close()
		}
	}
}
