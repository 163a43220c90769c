// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mockrouter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/seventeensierra/proposal-prepper/services/router"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	r := gin.New()
	RegisterRoutes(r, NewHandlers(svc))
	return r
}

// doJSON posts a JSON body and decodes the enveloped answer into out.
func doJSON(t *testing.T, r *gin.Engine, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if out != nil && w.Code == http.StatusOK {
		var env struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if !env.Success {
			t.Fatalf("expected success envelope, got %s", w.Body.String())
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
	}
	return w
}

func TestHandleHealth(t *testing.T) {
	r := setupTestRouter(NewService(nil))

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	w := doJSON(t, r, "GET", "/api/health", nil, &resp)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, resp.Version)
	}
}

func TestHandleUpload_AcceptsPDF(t *testing.T) {
	r := setupTestRouter(NewService(nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "proposal.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("%PDF-1.7 mock"))
	mw.Close()

	req, _ := http.NewRequest("POST", "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var env struct {
		Data router.UploadSessionResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Data.Filename != "proposal.pdf" {
		t.Errorf("expected filename echoed, got %q", env.Data.Filename)
	}
	if env.Data.Status != "completed" || env.Data.Progress != 100 {
		t.Errorf("expected completed@100, got %s@%v", env.Data.Status, env.Data.Progress)
	}
	if !strings.HasPrefix(env.Data.ID, "upload_") {
		t.Errorf("expected upload_ id prefix, got %q", env.Data.ID)
	}
}

func TestHandleUpload_MissingFile(t *testing.T) {
	r := setupTestRouter(NewService(nil))
	w := doJSON(t, r, "POST", "/api/documents/upload", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing file, got %d", w.Code)
	}
}

func TestHandleSimulateUpload(t *testing.T) {
	r := setupTestRouter(NewService(nil))

	var resp router.UploadSessionResponse
	w := doJSON(t, r, "POST", "/api/documents/simulate-upload",
		map[string]string{"filename": "seeded.pdf"}, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp.Filename != "seeded.pdf" || resp.Status != "completed" {
		t.Errorf("unexpected session: %+v", resp)
	}

	w = doJSON(t, r, "POST", "/api/documents/simulate-upload", map[string]string{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing filename, got %d", w.Code)
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	r := setupTestRouter(NewService(nil))

	var session router.AnalysisSessionResponse
	w := doJSON(t, r, "POST", "/api/analysis/start",
		map[string]string{"proposal_id": "prop-1"}, &session)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	if session.Status != "extracting" || session.Progress != 0 {
		t.Errorf("expected extracting@0, got %s@%v", session.Status, session.Progress)
	}

	// Each poll advances 15-24 points; 100/15 rounds to at most 7
	// polls before completion.
	var last router.AnalysisSessionResponse
	for i := 0; i < 8; i++ {
		doJSON(t, r, "GET", "/api/analysis/"+session.ID, nil, &last)
		if last.Progress < session.Progress {
			t.Fatalf("progress went backwards: %v -> %v", session.Progress, last.Progress)
		}
		if last.Status == "completed" {
			break
		}
	}
	if last.Status != "completed" || last.Progress != 100 {
		t.Fatalf("session never completed: %s@%v", last.Status, last.Progress)
	}
	if last.CompletedAt == nil {
		t.Error("expected CompletedAt set on completion")
	}

	var results router.ComplianceResultsResponse
	doJSON(t, r, "GET", "/api/analysis/"+session.ID+"/results", nil, &results)
	if results.ID != session.ID {
		t.Errorf("expected results for %s, got %s", session.ID, results.ID)
	}
	if results.Summary.TotalIssues != len(results.Issues) {
		t.Errorf("summary count %d does not match %d issues",
			results.Summary.TotalIssues, len(results.Issues))
	}
}

func TestHandleAnalysisStatus_Unknown(t *testing.T) {
	r := setupTestRouter(NewService(nil))
	w := doJSON(t, r, "GET", "/api/analysis/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleAnalysisCancel(t *testing.T) {
	r := setupTestRouter(NewService(nil))

	var session router.AnalysisSessionResponse
	doJSON(t, r, "POST", "/api/analysis/start", map[string]string{"proposal_id": "prop-1"}, &session)

	w := doJSON(t, r, "DELETE", "/api/analysis/"+session.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}

	var after router.AnalysisSessionResponse
	doJSON(t, r, "GET", "/api/analysis/"+session.ID, nil, &after)
	if after.Status != "failed" {
		t.Errorf("expected failed after cancel, got %s", after.Status)
	}
	if after.ErrorMessage != "Analysis cancelled by user" {
		t.Errorf("expected cancellation message, got %q", after.ErrorMessage)
	}
}

func TestHandleIssueDetails(t *testing.T) {
	r := setupTestRouter(NewService(nil))

	var issue router.ComplianceIssueResponse
	doJSON(t, r, "GET", "/api/results/issues/issue_42", nil, &issue)
	if issue.ID != "issue_42" {
		t.Errorf("expected echoed issue id, got %q", issue.ID)
	}
	if issue.Regulation.Framework != "FAR" {
		t.Errorf("expected FAR regulation, got %q", issue.Regulation.Framework)
	}
}

func TestCleanReport(t *testing.T) {
	if !cleanReport("analysis_1000000030_abcd1234") {
		t.Error("timestamp mod 100 == 30 must be clean")
	}
	if cleanReport("analysis_1000000031_abcd1234") {
		t.Error("timestamp mod 100 == 31 must carry issues")
	}
	if cleanReport("garbage") {
		t.Error("unparseable ids default to issues")
	}
}
