// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package results

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/seventeensierra/proposal-prepper/services/router"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatPDF  = "pdf"
)

// csvHeader is the fixed column set for CSV exports.
var csvHeader = []string{
	"Issue ID", "Severity", "Title", "Description",
	"Framework", "Section", "Reference", "Remediation",
}

// ExportResults renders the proposal's report in the requested
// format.
//
// JSON output is indented. CSV output carries the fixed column set
// with embedded quotes doubled per RFC 4180. PDF rendering is not
// implemented client-side; the pdf format falls back to the JSON
// payload so callers always receive the data.
func (s *Service) ExportResults(ctx context.Context, proposalID, format string) ([]byte, error) {
	results, err := s.GetResults(ctx, proposalID, true)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON, FormatPDF:
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return nil, router.NewError(router.CodeValidationFailed, fmt.Sprintf("encode results: %v", err))
		}
		return data, nil
	case FormatCSV:
		return exportCSV(results)
	default:
		return nil, router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("Unsupported export format %q", format))
	}
}

func exportCSV(results *ComplianceResults) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, issue := range results.Issues {
		record := []string{
			issue.ID,
			issue.Severity,
			issue.Title,
			issue.Description,
			issue.Framework,
			issue.Section,
			issue.Reference,
			issue.Remediation,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
