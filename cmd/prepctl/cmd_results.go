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
	"sort"

	"github.com/spf13/cobra"

	"github.com/seventeensierra/proposal-prepper/services/results"
)

var (
	resultsExport string
	resultsOut    string
)

var resultsCmd = &cobra.Command{
	Use:   "results <proposal-id>",
	Short: "Fetch and display a compliance report",
	Long: `Fetches the compliance report for an analyzed proposal and prints a
summary: overall score, issue counts by severity, and the regulatory
sections cited.

With --export, writes the full report in the chosen format instead.

Examples:
  prepctl results prop-1
  prepctl results prop-1 --export csv --out report.csv
  prepctl results prop-1 --export json`,
	Args: cobra.ExactArgs(1),
	RunE: runResultsCommand,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsExport, "export", "",
		"Export format: json, csv or pdf")
	resultsCmd.Flags().StringVar(&resultsOut, "out", "",
		"Write export to this file instead of stdout")
	rootCmd.AddCommand(resultsCmd)
}

func runResultsCommand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	proposalID := args[0]

	svc := results.NewService(client, results.Callbacks{}, logger)

	if resultsExport != "" {
		data, err := svc.ExportResults(ctx, proposalID, resultsExport)
		if err != nil {
			return err
		}
		if resultsOut == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(resultsOut, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s report to %s\n", resultsExport, resultsOut)
		return nil
	}

	report, err := svc.GetResults(ctx, proposalID, true)
	if err != nil {
		return err
	}

	fmt.Printf("Proposal:       %s\n", report.ProposalID)
	fmt.Printf("Status:         %s\n", report.Status)
	fmt.Printf("Overall score:  %d/100\n", report.Summary.OverallScore)
	fmt.Printf("Issues:         %d total (%d critical, %d warning, %d info)\n",
		report.Summary.TotalIssues,
		report.Summary.CriticalIssues,
		report.Summary.WarningIssues,
		report.Summary.InfoIssues,
	)

	if len(report.Issues) > 0 {
		fmt.Println()
		for _, issue := range report.Issues {
			fmt.Printf("  [%s] %s (%s %s)\n", issue.Severity, issue.Title, issue.Framework, issue.Section)
		}
	}

	refs := svc.GetRegulatoryReferences(report)
	if len(refs) > 0 {
		fmt.Println("\nRegulatory sections cited:")
		frameworks := make([]string, 0, len(refs))
		for framework := range refs {
			frameworks = append(frameworks, framework)
		}
		sort.Strings(frameworks)
		for _, framework := range frameworks {
			fmt.Printf("  %s: %v\n", framework, refs[framework])
		}
	}
	return nil
}
