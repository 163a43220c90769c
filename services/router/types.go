// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"encoding/json"
	"io"
	"time"
)

// File describes a document handed to the upload transport. Content is
// streamed, not buffered; Size must match the number of bytes Content
// yields for progress fractions to be meaningful.
type File struct {
	// Name is the original filename, e.g. "proposal.pdf".
	Name string

	// Size is the content length in bytes.
	Size int64

	// MIMEType is the declared media type, e.g. "application/pdf".
	MIMEType string

	// Content is the document byte stream.
	Content io.Reader
}

// UploadSessionResponse is the wire shape of an upload session as
// reported by the AI Router service.
type UploadSessionResponse struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	FileSize     int64      `json:"fileSize"`
	MimeType     string     `json:"mimeType"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	S3Key        string     `json:"s3Key,omitempty"`
}

// AnalysisSessionResponse is the wire shape of an analysis session.
type AnalysisSessionResponse struct {
	ID                  string     `json:"id"`
	ProposalID          string     `json:"proposalId"`
	Status              string     `json:"status"`
	Progress            float64    `json:"progress"`
	StartedAt           time.Time  `json:"startedAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	CurrentStep         string     `json:"currentStep"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
}

// StartAnalysisRequest is the body of POST /api/analysis/start.
type StartAnalysisRequest struct {
	ProposalID string   `json:"proposal_id"`
	DocumentID string   `json:"document_id"`
	Filename   string   `json:"filename"`
	S3Key      string   `json:"s3_key"`
	Frameworks []string `json:"frameworks"`
}

// ComplianceResultsResponse is the wire shape of a completed job's
// compliance output.
type ComplianceResultsResponse struct {
	ID          string                    `json:"id"`
	ProposalID  string                    `json:"proposalId"`
	Status      string                    `json:"status"`
	Issues      []ComplianceIssueResponse `json:"issues"`
	Summary     ResultsSummary            `json:"summary"`
	GeneratedAt time.Time                 `json:"generatedAt"`
}

// ResultsSummary carries the server-computed issue counts. The results
// store recomputes counts from the issue list and does not trust these
// figures beyond cross-checking.
type ResultsSummary struct {
	TotalIssues    int `json:"totalIssues"`
	CriticalIssues int `json:"criticalIssues"`
	WarningIssues  int `json:"warningIssues"`
}

// ComplianceIssueResponse is one identified compliance issue on the
// wire.
type ComplianceIssueResponse struct {
	ID          string                  `json:"id"`
	Severity    string                  `json:"severity"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Regulation  RegulationReference     `json:"regulation"`
	Location    *IssueLocationResponse  `json:"location,omitempty"`
	Remediation string                  `json:"remediation,omitempty"`
}

// RegulationReference identifies the regulatory clause an issue cites.
type RegulationReference struct {
	Framework string `json:"framework"`
	Section   string `json:"section"`
	Reference string `json:"reference"`
}

// IssueLocationResponse pinpoints where in the document an issue was
// found.
type IssueLocationResponse struct {
	Page    int    `json:"page"`
	Section string `json:"section"`
	Text    string `json:"text"`
}

// HealthResponse is the wire shape of GET /api/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// WebSocket topics pushed by the AI Router service.
const (
	TopicUploadProgress   = "upload_progress"
	TopicAnalysisProgress = "analysis_progress"
	TopicAnalysisComplete = "analysis_complete"
	TopicError            = "error"
)

// Message is one inbound WebSocket frame. Data stays raw; each
// subscriber decodes the shape it expects for its topic.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// ProgressData is the Data payload of upload_progress and
// analysis_progress frames.
type ProgressData struct {
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"currentStep,omitempty"`
}

// ErrorData is the Data payload of error frames.
type ErrorData struct {
	Error string `json:"error"`
}

// unwrapEnvelope strips nested {success:true, data:...} middleware
// envelopes. Responses proxied through one or more gateway layers
// arrive multiply wrapped; peel until the innermost payload.
func unwrapEnvelope(raw []byte) []byte {
	for {
		var env struct {
			Success *bool           `json:"success"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return raw
		}
		if env.Success == nil || !*env.Success || len(env.Data) == 0 {
			return raw
		}
		raw = env.Data
	}
}
