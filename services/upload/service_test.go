// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package upload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

// startBackend serves health plus a configurable upload handler.
func startBackend(t *testing.T, uploadHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if uploadHandler != nil {
		mux.HandleFunc("/api/documents/upload", uploadHandler)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestService(t *testing.T, ts *httptest.Server, callbacks Callbacks) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = ts.URL
	cfg.API.MaxRetries = 0
	cfg.API.RequestTimeout = 5 * time.Second
	client := router.New(cfg)
	t.Cleanup(func() { client.Close() })
	return NewService(client, cfg.Upload, callbacks, nil)
}

func pdfFile(name string, size int) router.File {
	return router.File{
		Name:     name,
		Size:     int64(size),
		MIMEType: "application/pdf",
		Content:  strings.NewReader(strings.Repeat("x", size)),
	}
}

func TestValidate_RejectsEachConstraintDistinctly(t *testing.T) {
	ts := startBackend(t, nil)
	svc := newTestService(t, ts, Callbacks{})

	tests := []struct {
		name    string
		file    router.File
		wantSub string
	}{
		{
			name:    "wrong mime",
			file:    router.File{Name: "a.docx", Size: 2048, MIMEType: "application/msword"},
			wantSub: "not supported",
		},
		{
			name:    "too large",
			file:    router.File{Name: "a.pdf", Size: 101 * 1024 * 1024, MIMEType: "application/pdf"},
			wantSub: "too large",
		},
		{
			name:    "too small",
			file:    router.File{Name: "a.pdf", Size: 512, MIMEType: "application/pdf"},
			wantSub: "too small",
		},
		{
			name:    "filename too long",
			file:    router.File{Name: strings.Repeat("n", 256) + ".pdf", Size: 2048, MIMEType: "application/pdf"},
			wantSub: "255 characters",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Validate(tc.file)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var apiErr *router.Error
			if !errors.As(err, &apiErr) || apiErr.Code != router.CodeValidationFailed {
				t.Fatalf("expected VALIDATION_001, got %v", err)
			}
			if !strings.Contains(apiErr.Message, tc.wantSub) {
				t.Errorf("message %q missing %q", apiErr.Message, tc.wantSub)
			}
		})
	}

	if err := svc.Validate(pdfFile("ok.pdf", 2048)); err != nil {
		t.Errorf("valid file rejected: %v", err)
	}
}

func TestUpload_SuccessReKeysToServerID(t *testing.T) {
	ts := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		w.Write([]byte(`{"success":true,"data":{"id":"doc_7","filename":"proposal.pdf","status":"completed","progress":100}}`))
	})

	var completed []Session
	var progressTicks int
	svc := newTestService(t, ts, Callbacks{
		OnProgress: func(s Session) { progressTicks++ },
		OnComplete: func(s Session) { completed = append(completed, s) },
	})

	session, err := svc.Upload(context.Background(), pdfFile("proposal.pdf", 4096), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if session.ID != "doc_7" {
		t.Errorf("expected server id doc_7, got %q", session.ID)
	}
	if session.Status != StatusCompleted || session.Progress != 100 {
		t.Errorf("expected completed@100, got %s@%v", session.Status, session.Progress)
	}
	if session.MIMEType != "application/pdf" {
		t.Errorf("expected session to carry the MIME type, got %q", session.MIMEType)
	}
	if session.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}
	if progressTicks == 0 {
		t.Error("expected at least one progress callback")
	}
	if len(completed) != 1 || completed[0].ID != "doc_7" {
		t.Errorf("expected one OnComplete with server id, got %+v", completed)
	}

	// The provisional key must be gone; only the server key remains.
	sessions := svc.Sessions()
	if len(sessions) != 1 || sessions[0].ID != "doc_7" {
		t.Errorf("expected single session keyed doc_7, got %+v", sessions)
	}
}

func TestUpload_FailureMarksSessionFailed(t *testing.T) {
	ts := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	var gotErr error
	svc := newTestService(t, ts, Callbacks{
		OnError: func(s Session, err error) { gotErr = err },
	})

	session, err := svc.Upload(context.Background(), pdfFile("proposal.pdf", 4096), "")
	if err == nil {
		t.Fatal("expected upload error")
	}
	if session.Status != StatusFailed {
		t.Errorf("expected failed session, got %s", session.Status)
	}
	if session.Error == "" {
		t.Error("expected session error message")
	}
	if gotErr == nil {
		t.Error("expected OnError callback")
	}
}

func TestUpload_RejectsConcurrentSecondUpload(t *testing.T) {
	release := make(chan struct{})
	ts := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"id":"doc_1","status":"completed"}`))
	})

	svc := newTestService(t, ts, Callbacks{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Upload(context.Background(), pdfFile("first.pdf", 4096), "")
		done <- err
	}()

	// Wait for the first upload to occupy the slot.
	deadline := time.After(2 * time.Second)
	for {
		if len(svc.Sessions()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first upload never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := svc.Upload(context.Background(), pdfFile("second.pdf", 4096), "")
	if err == nil {
		t.Fatal("expected second concurrent upload to be rejected")
	}
	if !strings.Contains(err.Error(), "already in progress") {
		t.Errorf("unexpected rejection message: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first upload should have succeeded: %v", err)
	}

	// Slot freed: a new upload is accepted again.
	if _, err := svc.Upload(context.Background(), pdfFile("third.pdf", 4096), ""); err != nil {
		t.Errorf("upload after slot freed rejected: %v", err)
	}
}

func TestCancelUpload_FailsSessionImmediately(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	ts := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"id":"doc_9","status":"completed"}`))
	})

	svc := newTestService(t, ts, Callbacks{})

	done := make(chan *Session, 1)
	go func() {
		session, _ := svc.Upload(context.Background(), pdfFile("p.pdf", 4096), "sess_1")
		done <- session
	}()

	deadline := time.After(2 * time.Second)
	for {
		sessions := svc.Sessions()
		if len(sessions) == 1 && sessions[0].Status == StatusUploading {
			started <- sessions[0].ID
			break
		}
		select {
		case <-deadline:
			t.Fatal("upload never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	id := <-started
	if err := svc.CancelUpload(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The session is Failed right away, while the transfer is still
	// blocked server-side.
	sessions := svc.Sessions()
	if len(sessions) != 1 || sessions[0].Status != StatusFailed {
		t.Fatalf("expected immediate failed state, got %+v", sessions)
	}
	if sessions[0].Error != "Upload cancelled by user" {
		t.Errorf("expected cancellation message, got %q", sessions[0].Error)
	}

	close(release)

	// The settling transfer, even a successful one, cannot revive the
	// cancelled session.
	session := <-done
	if session.Status != StatusFailed {
		t.Errorf("expected failed after settle, got %s", session.Status)
	}
	if session.Error != "Upload cancelled by user" {
		t.Errorf("expected cancellation message after settle, got %q", session.Error)
	}
	if session.ID != id {
		t.Errorf("cancelled session must keep its provisional id, got %q", session.ID)
	}
}

func TestCancelUpload_RejectsTerminalSessions(t *testing.T) {
	ts := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"doc_2","status":"completed"}`))
	})
	svc := newTestService(t, ts, Callbacks{})

	if _, err := svc.Upload(context.Background(), pdfFile("p.pdf", 4096), ""); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := svc.CancelUpload("doc_2"); err == nil {
		t.Error("cancelling a completed session must fail")
	}
	if err := svc.CancelUpload("nope"); err == nil {
		t.Error("cancelling an unknown session must fail")
	}
}

func TestClearSession_TerminalOnly(t *testing.T) {
	ts := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"doc_3","status":"completed"}`))
	})
	svc := newTestService(t, ts, Callbacks{})

	if _, err := svc.Upload(context.Background(), pdfFile("p.pdf", 4096), ""); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := svc.ClearSession("doc_3"); err != nil {
		t.Errorf("clearing a terminal session must succeed: %v", err)
	}
	if got := len(svc.Sessions()); got != 0 {
		t.Errorf("expected no sessions, got %d", got)
	}
}

func TestGetUploadStatus_InFlightAnswersLocally(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/api/documents/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	})
	// The status route contradicts local state on purpose: a passing
	// test proves the non-completed session answered locally.
	mux.HandleFunc("/api/documents/upload/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"uploading","progress":10}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	svc := newTestService(t, ts, Callbacks{})
	if _, err := svc.Upload(context.Background(), pdfFile("p.pdf", 4096), ""); err == nil {
		t.Fatal("expected upload failure")
	}

	sessions := svc.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected one tracked session, got %d", len(sessions))
	}

	session, err := svc.GetUploadStatus(context.Background(), sessions[0].ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if session.Status != StatusFailed {
		t.Errorf("expected failed from local state, got %s", session.Status)
	}
}

func TestGetUploadStatus_CompletedReconcilesWithServer(t *testing.T) {
	var statusHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/api/documents/upload", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"doc_4","status":"completed"}`))
	})
	mux.HandleFunc("/api/documents/upload/doc_4", func(w http.ResponseWriter, r *http.Request) {
		statusHits.Add(1)
		w.Write([]byte(`{"id":"doc_4","status":"completed","progress":100}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	svc := newTestService(t, ts, Callbacks{})
	if _, err := svc.Upload(context.Background(), pdfFile("p.pdf", 4096), ""); err != nil {
		t.Fatalf("upload: %v", err)
	}

	session, err := svc.GetUploadStatus(context.Background(), "doc_4")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if session.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", session.Status)
	}
	if got := statusHits.Load(); got != 1 {
		t.Errorf("expected one server reconciliation, got %d", got)
	}
}

func TestGetUploadStatus_ReconcilesFromServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/api/documents/upload/doc_5", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"doc_5","filename":"p.pdf","mimeType":"application/pdf","status":"processing","progress":60}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	svc := newTestService(t, ts, Callbacks{})
	session, err := svc.GetUploadStatus(context.Background(), "doc_5")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if session.Status != StatusProcessing || session.Progress != 60 {
		t.Errorf("expected processing@60 from server, got %s@%v", session.Status, session.Progress)
	}
	if session.MIMEType != "application/pdf" {
		t.Errorf("expected MIME type from server record, got %q", session.MIMEType)
	}
}

func TestStatusFromWire(t *testing.T) {
	tests := []struct {
		wire string
		want Status
	}{
		{"pending", StatusPending},
		{"uploading", StatusUploading},
		{"processing", StatusProcessing},
		{"completed", StatusCompleted},
		{"failed", StatusFailed},
		{"cancelled", StatusFailed},
	}
	for _, tc := range tests {
		if got := statusFromWire(tc.wire); got != tc.want {
			t.Errorf("statusFromWire(%q) = %s, want %s", tc.wire, got, tc.want)
		}
	}
}

func TestNewProvisionalID_Shape(t *testing.T) {
	id := newProvisionalID()
	if !strings.HasPrefix(id, "upload_") {
		t.Errorf("expected upload_ prefix, got %q", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 || len(parts[2]) != 8 {
		t.Errorf("expected upload_<ms>_<8-char nonce>, got %q", id)
	}
}
