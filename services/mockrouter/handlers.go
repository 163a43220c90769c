// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mockrouter

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the mock backend over gin.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// envelope wraps a payload the way the real gateway does.
func envelope(data any) gin.H {
	return gin.H{"success": true, "data": data}
}

func errorEnvelope(message, code string) gin.H {
	return gin.H{"success": false, "error": message, "code": code}
}

// HandleHealth implements GET /api/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, envelope(gin.H{
		"status":    "healthy",
		"version":   ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}))
}

// HandleUpload implements POST /api/documents/upload: a multipart
// form with a "file" part, validated for type and size.
func (h *Handlers) HandleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("No file provided", "MISSING_FILE"))
		return
	}

	contentType := file.Header.Get("Content-Type")
	// Multipart writers that set no part content type default to
	// octet-stream; accept it so streaming clients are not rejected.
	if contentType != "application/pdf" && contentType != "application/octet-stream" {
		c.JSON(http.StatusBadRequest, errorEnvelope("Invalid file type. Only PDF files are supported.", "INVALID_FILE_TYPE"))
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, errorEnvelope("File size exceeds 100MB limit", "FILE_TOO_LARGE"))
		return
	}

	session := h.svc.RecordUpload(file.Filename, file.Size, contentType)
	c.JSON(http.StatusOK, envelope(session))
}

// HandleSimulateUpload implements POST /api/documents/simulate-upload
// for seeded demo documents: no bytes change hands.
func (h *Handlers) HandleSimulateUpload(c *gin.Context) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Filename == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope("Filename is required", "MISSING_FILENAME"))
		return
	}

	session := h.svc.RecordUpload(req.Filename, 1024000, "application/pdf")
	c.JSON(http.StatusOK, envelope(session))
}

// HandleUploadStatus implements GET /api/documents/upload/:id.
func (h *Handlers) HandleUploadStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope("Session ID is required", "MISSING_SESSION_ID"))
		return
	}
	c.JSON(http.StatusOK, envelope(h.svc.UploadStatus(id)))
}

// HandleAnalysisStart implements POST /api/analysis/start.
func (h *Handlers) HandleAnalysisStart(c *gin.Context) {
	var req struct {
		ProposalID string   `json:"proposal_id"`
		DocumentID string   `json:"document_id"`
		Filename   string   `json:"filename"`
		Frameworks []string `json:"frameworks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProposalID == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope("Proposal ID is required", "MISSING_PROPOSAL_ID"))
		return
	}

	session := h.svc.StartAnalysis(req.ProposalID)
	c.JSON(http.StatusOK, envelope(session))
}

// HandleAnalysisStatus implements GET /api/analysis/:id. Every poll
// advances the fake pipeline one tick.
func (h *Handlers) HandleAnalysisStatus(c *gin.Context) {
	session, ok := h.svc.AnalysisStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorEnvelope("Analysis session not found", "ANALYSIS_NOT_FOUND"))
		return
	}
	c.JSON(http.StatusOK, envelope(session))
}

// HandleAnalysisCancel implements DELETE /api/analysis/:id.
func (h *Handlers) HandleAnalysisCancel(c *gin.Context) {
	if !h.svc.CancelAnalysis(c.Param("id")) {
		c.JSON(http.StatusNotFound, errorEnvelope("Analysis session not found", "ANALYSIS_NOT_FOUND"))
		return
	}
	c.JSON(http.StatusOK, envelope(gin.H{"cancelled": true}))
}

// HandleAnalysisResults implements GET /api/analysis/:id/results.
func (h *Handlers) HandleAnalysisResults(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope("Session ID is required", "MISSING_SESSION_ID"))
		return
	}
	c.JSON(http.StatusOK, envelope(h.svc.Results(id)))
}

// HandleIssueDetails implements GET /api/results/issues/:id.
func (h *Handlers) HandleIssueDetails(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope("Issue ID is required", "MISSING_ISSUE_ID"))
		return
	}
	c.JSON(http.StatusOK, envelope(h.svc.IssueDetails(id)))
}

// HandleWebSocket upgrades /ws connections into the broadcast hub.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	h.svc.Hub().HandleUpgrade(c.Writer, c.Request)
}
