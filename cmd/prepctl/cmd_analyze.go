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
	"sync"

	"github.com/spf13/cobra"

	"github.com/seventeensierra/proposal-prepper/services/analysis"
)

var (
	analyzeDocumentID string
	analyzeFilename   string
	analyzeFrameworks []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <proposal-id>",
	Short: "Run a compliance analysis to completion",
	Long: `Starts a compliance analysis and follows it to its terminal state,
printing each pipeline step as the run advances.

Examples:
  prepctl analyze prop-1
  prepctl analyze prop-1 --document-id doc_42 --framework FAR`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyzeCommand,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDocumentID, "document-id", "", "Uploaded document ID to analyze")
	analyzeCmd.Flags().StringVar(&analyzeFilename, "filename", "", "Original document filename")
	analyzeCmd.Flags().StringSliceVar(&analyzeFrameworks, "framework", nil,
		"Compliance framework to evaluate (FAR, DFARS); repeatable, default all")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	done := make(chan analysis.Session, 1)
	var once sync.Once
	finish := func(s analysis.Session) {
		once.Do(func() { done <- s })
	}

	svc := analysis.NewService(client, cfg.Analysis, analysis.Callbacks{
		OnProgress: func(s analysis.Session) {
			fmt.Printf("[%3.0f%%] %s: %s\n", s.Progress, s.Status, s.CurrentStep)
		},
		OnComplete: func(s analysis.Session) { finish(s) },
		OnError:    func(s analysis.Session, err error) { finish(s) },
	}, logger)
	defer svc.Close()

	// Connect the push channel when available; polling covers its
	// absence.
	if err := client.Connect(ctx); err != nil {
		logger.Warn("push channel unavailable, relying on polling", "error", err.Error())
	}

	result, err := svc.StartAnalysis(ctx, analysis.Request{
		ProposalID: args[0],
		DocumentID: analyzeDocumentID,
		Filename:   analyzeFilename,
		Frameworks: analyzeFrameworks,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Analysis session: %s\n", result.SessionID)

	session := <-done
	switch session.Status {
	case analysis.StatusCompleted:
		fmt.Printf("Analysis completed. Fetch the report with: prepctl results %s\n", args[0])
		return nil
	default:
		return fmt.Errorf("analysis failed: %s", session.Error)
	}
}
