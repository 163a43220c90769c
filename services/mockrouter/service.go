// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mockrouter is a self-contained stand-in for the AI Router
// compliance service. It implements the full HTTP and WebSocket
// contract with staged fake progressions and a deterministic issue
// set, so the client stack and demos can run with no real backend.
package mockrouter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seventeensierra/proposal-prepper/pkg/logging"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0-mock"

// maxUploadSize bounds accepted multipart uploads.
const maxUploadSize = 100 * 1024 * 1024

// Service holds the mock backend's session state.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	logger *logging.Logger

	mu       sync.Mutex
	uploads  map[string]router.UploadSessionResponse
	analyses map[string]router.AnalysisSessionResponse

	hub *Hub

	// now is swapped in tests for deterministic IDs and progress.
	now func() time.Time
}

// NewService creates an empty mock backend.
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		logger:   logger,
		uploads:  make(map[string]router.UploadSessionResponse),
		analyses: make(map[string]router.AnalysisSessionResponse),
		hub:      NewHub(logger),
		now:      time.Now,
	}
}

// Hub returns the WebSocket broadcast hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

func (s *Service) newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, s.now().UnixMilli(), uuid.NewString()[:8])
}

// RecordUpload registers a completed upload session for a document.
func (s *Service) RecordUpload(filename string, size int64, mimeType string) router.UploadSessionResponse {
	now := s.now()
	session := router.UploadSessionResponse{
		ID:          s.newID("upload"),
		Filename:    filename,
		FileSize:    size,
		MimeType:    mimeType,
		Status:      "completed",
		Progress:    100,
		StartedAt:   now,
		CompletedAt: &now,
	}

	s.mu.Lock()
	s.uploads[session.ID] = session
	s.mu.Unlock()

	s.logger.Info("mock upload recorded", "session_id", session.ID, "filename", filename)
	return session
}

// UploadStatus returns a stored upload session. Unknown IDs answer
// with a synthetic completed session, matching the original mock's
// permissive behavior.
func (s *Service) UploadStatus(id string) router.UploadSessionResponse {
	s.mu.Lock()
	session, ok := s.uploads[id]
	s.mu.Unlock()
	if ok {
		return session
	}

	now := s.now()
	return router.UploadSessionResponse{
		ID:          id,
		Filename:    "mock-proposal.pdf",
		FileSize:    1024000,
		MimeType:    "application/pdf",
		Status:      "completed",
		Progress:    100,
		StartedAt:   now.Add(-10 * time.Second),
		CompletedAt: &now,
	}
}

// StartAnalysis creates a new analysis session in the extracting
// state.
func (s *Service) StartAnalysis(proposalID string) router.AnalysisSessionResponse {
	now := s.now()
	eta := now.Add(10 * time.Second)
	session := router.AnalysisSessionResponse{
		ID:                  s.newID("analysis"),
		ProposalID:          proposalID,
		Status:              "extracting",
		Progress:            0,
		StartedAt:           now,
		EstimatedCompletion: &eta,
		CurrentStep:         "Extracting document structure and text...",
	}

	s.mu.Lock()
	s.analyses[session.ID] = session
	s.mu.Unlock()

	s.logger.Info("mock analysis started", "session_id", session.ID, "proposal_id", proposalID)
	return session
}

// analysisStage maps a progress value onto the staged status and step
// label of the fake pipeline.
func analysisStage(progress float64) (status, step string) {
	switch {
	case progress >= 100:
		return "completed", "Analysis complete"
	case progress >= 85:
		return "validating", "Synthesizing final compliance report..."
	case progress >= 70:
		return "validating", "Cross-referencing small business rules..."
	case progress >= 55:
		return "analyzing", "Performing Cybersecurity Audit (NIST)..."
	case progress >= 35:
		return "analyzing", "Auditing DFARS Supplements..."
	case progress >= 15:
		return "analyzing", "Scanning FAR Part 52 Requirements..."
	default:
		return "extracting", "Extracting document structure and text..."
	}
}

// AnalysisStatus advances a session by one fake tick and returns it.
// Each poll moves progress forward 15-24 points until completion, and
// the matching progress/complete frame is broadcast to WebSocket
// subscribers.
func (s *Service) AnalysisStatus(id string) (router.AnalysisSessionResponse, bool) {
	s.mu.Lock()
	session, ok := s.analyses[id]
	if !ok {
		s.mu.Unlock()
		return router.AnalysisSessionResponse{}, false
	}

	if session.Status != "completed" && session.Status != "failed" {
		increment := float64(15 + s.now().UnixMilli()%10)
		progress := session.Progress + increment
		if progress > 100 {
			progress = 100
		}
		status, step := analysisStage(progress)
		session.Progress = progress
		session.Status = status
		session.CurrentStep = step
		if status == "completed" {
			now := s.now()
			session.CompletedAt = &now
		}
		s.analyses[id] = session
	}
	snapshot := session
	s.mu.Unlock()

	s.broadcastProgress(snapshot)
	return snapshot, true
}

// broadcastProgress pushes the session's state to the ws hub.
func (s *Service) broadcastProgress(session router.AnalysisSessionResponse) {
	if session.Status == "completed" {
		s.hub.Broadcast(router.TopicAnalysisComplete, session.ID, map[string]any{
			"progress": session.Progress,
		})
		return
	}
	s.hub.Broadcast(router.TopicAnalysisProgress, session.ID, map[string]any{
		"progress":    session.Progress,
		"currentStep": session.CurrentStep,
	})
}

// CancelAnalysis marks a session failed with a cancellation message.
func (s *Service) CancelAnalysis(id string) bool {
	s.mu.Lock()
	session, ok := s.analyses[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if session.Status != "completed" && session.Status != "failed" {
		now := s.now()
		session.Status = "failed"
		session.ErrorMessage = "Analysis cancelled by user"
		session.CompletedAt = &now
		s.analyses[id] = session
	}
	s.mu.Unlock()
	return true
}

// Results builds the deterministic issue set for a session. Sessions
// whose embedded timestamp mod 100 lands at or below 30 produce a
// clean report, mirroring the original mock's pseudo-randomness.
func (s *Service) Results(sessionID string) router.ComplianceResultsResponse {
	issues := mockIssues()
	if cleanReport(sessionID) {
		issues = nil
	}

	var critical, warning int
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			critical++
		case "warning":
			warning++
		}
	}

	status := "warning"
	if len(issues) == 0 {
		status = "pass"
	}

	return router.ComplianceResultsResponse{
		ID:         sessionID,
		ProposalID: "proposal_" + sessionID,
		Status:     status,
		Issues:     issues,
		Summary: router.ResultsSummary{
			TotalIssues:    len(issues),
			CriticalIssues: critical,
			WarningIssues:  warning,
		},
		GeneratedAt: s.now(),
	}
}

// cleanReport decides from the session ID's embedded timestamp
// whether the report comes back without findings.
func cleanReport(sessionID string) bool {
	var ts int64
	if _, err := fmt.Sscanf(sessionID, "analysis_%d_", &ts); err != nil {
		return false
	}
	return ts%100 <= 30
}

// mockIssues is the canned finding set served for non-clean reports.
func mockIssues() []router.ComplianceIssueResponse {
	return []router.ComplianceIssueResponse{
		{
			ID:          "issue_1",
			Severity:    "warning",
			Title:       "Budget Justification Format",
			Description: "Budget justification follows standard format but could include more detail on equipment costs",
			Location: &router.IssueLocationResponse{
				Page:    8,
				Section: "Budget Justification",
				Text:    "Equipment costs section",
			},
			Regulation: router.RegulationReference{
				Framework: "FAR",
				Section:   "15.204-5",
				Reference: "FAR 15.204-5 - Budget Justification Requirements",
			},
			Remediation: "Consider adding more detailed breakdown of equipment and personnel costs",
		},
		{
			ID:          "issue_2",
			Severity:    "info",
			Title:       "Data Management Plan",
			Description: "Data management plan is present and meets basic requirements",
			Location: &router.IssueLocationResponse{
				Page:    15,
				Section: "Data Management Plan",
				Text:    "Data management section",
			},
			Regulation: router.RegulationReference{
				Framework: "FAR",
				Section:   "19-069",
				Reference: "NSF 19-069 - Data Management Plan Requirements",
			},
			Remediation: "Plan is compliant with current requirements",
		},
	}
}

// IssueDetails serves the expanded record for any issue ID.
func (s *Service) IssueDetails(issueID string) router.ComplianceIssueResponse {
	return router.ComplianceIssueResponse{
		ID:          issueID,
		Severity:    "warning",
		Title:       "Sample Compliance Issue",
		Description: "This is a detailed description of the compliance issue found in the document.",
		Location: &router.IssueLocationResponse{
			Page:    5,
			Section: "Technical Approach",
			Text:    "Relevant text excerpt from the document",
		},
		Regulation: router.RegulationReference{
			Framework: "FAR",
			Section:   "52.204-8",
			Reference: "FAR 52.204-8 - Annual Representations and Certifications",
		},
		Remediation: "Recommended steps to address this compliance issue.",
	}
}
