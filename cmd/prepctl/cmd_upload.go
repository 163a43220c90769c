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

	"github.com/spf13/cobra"

	"github.com/seventeensierra/proposal-prepper/services/router"
	"github.com/seventeensierra/proposal-prepper/services/upload"
)

var uploadSimulate bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a proposal document",
	Long: `Validates and uploads a PDF document, printing transfer progress.

With --simulate, registers the filename as a seeded demo document
server-side without transferring any bytes.

Examples:
  prepctl upload proposal.pdf
  prepctl upload --simulate demo-proposal.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runUploadCommand,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadSimulate, "simulate", false,
		"Register a seeded demo document instead of transferring bytes")
	rootCmd.AddCommand(uploadCmd)
}

func runUploadCommand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]

	svc := upload.NewService(client, cfg.Upload, upload.Callbacks{
		OnProgress: func(s upload.Session) {
			fmt.Printf("\rUploading %s ... %3.0f%%", s.Filename, s.Progress)
		},
	}, logger)

	if uploadSimulate {
		session, err := svc.SimulateUpload(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("Registered seeded document %s (id %s)\n", session.Filename, session.ID)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	session, err := svc.Upload(ctx, router.File{
		Name:     info.Name(),
		Size:     info.Size(),
		MIMEType: "application/pdf",
		Content:  f,
	}, "")
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded %s (%d bytes)\n", session.Filename, session.FileSize)
	fmt.Printf("Document ID: %s\n", session.ID)
	return nil
}
