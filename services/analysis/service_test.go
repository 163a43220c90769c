// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

// mockBackend is a scriptable analysis backend: each status fetch pops
// the next canned answer, holding the last one once the script runs
// out.
type mockBackend struct {
	mu         sync.Mutex
	statuses   []string
	started    int
	fetches    int
	nextID     string
	pushFrames chan []byte
}

func (b *mockBackend) handler() http.Handler {
	mux := http.NewServeMux()
	if b.pushFrames != nil {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for frame := range b.pushFrames {
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		})
	}
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/api/analysis/start", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.started++
		id := b.nextID
		if id == "" {
			id = "an_1"
		}
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"id": id, "status": "queued", "progress": 0})
	})
	mux.HandleFunc("/api/analysis/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		b.mu.Lock()
		b.fetches++
		body := `{"id":"an_1","status":"queued","progress":0}`
		if len(b.statuses) > 0 {
			body = b.statuses[0]
			if len(b.statuses) > 1 {
				b.statuses = b.statuses[1:]
			}
		}
		b.mu.Unlock()
		w.Write([]byte(body))
	})
	return mux
}

func newTestService(t *testing.T, backend *mockBackend, callbacks Callbacks) (*Service, *router.Client) {
	t.Helper()
	ts := httptest.NewServer(backend.handler())
	t.Cleanup(ts.Close)
	if backend.pushFrames != nil {
		// Unblock the /ws handler before the server shuts down.
		t.Cleanup(func() { close(backend.pushFrames) })
	}

	cfg := config.Default()
	cfg.API.BaseURL = ts.URL
	cfg.API.MaxRetries = 0
	cfg.API.RequestTimeout = 5 * time.Second
	cfg.Analysis.PollInterval = 10 * time.Millisecond
	cfg.Analysis.Timeout = time.Second

	client := router.New(cfg)
	t.Cleanup(func() { client.Close() })

	svc := NewService(client, cfg.Analysis, callbacks, nil)
	t.Cleanup(svc.Close)
	return svc, client
}

func waitForStatus(t *testing.T, svc *Service, id string, want Status) Session {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for _, session := range svc.Sessions() {
			if session.ID == id && session.Status == want {
				return session
			}
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached %s; sessions: %+v", id, want, svc.Sessions())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestValidateAnalysisRequest(t *testing.T) {
	svc, _ := newTestService(t, &mockBackend{}, Callbacks{})

	tests := []struct {
		name    string
		req     Request
		wantSub string
	}{
		{"missing proposal", Request{}, "Proposal ID is required"},
		{"proposal too long", Request{ProposalID: strings.Repeat("p", 129)}, "128 characters"},
		{"bad framework", Request{ProposalID: "p1", Frameworks: []string{"ITAR"}}, "framework"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ValidateAnalysisRequest(tc.req)
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

	if err := svc.ValidateAnalysisRequest(Request{ProposalID: "p1", Frameworks: []string{"FAR", "DFARS"}}); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestValidateAnalysisRequest_LengthBoundFollowsConfig(t *testing.T) {
	svc, _ := newTestService(t, &mockBackend{}, Callbacks{})
	svc.cfg.MaxProposalIDLength = 8

	if err := svc.ValidateAnalysisRequest(Request{ProposalID: "12345678"}); err != nil {
		t.Errorf("id at the configured bound rejected: %v", err)
	}

	err := svc.ValidateAnalysisRequest(Request{ProposalID: "123456789"})
	if err == nil {
		t.Fatal("expected rejection above the configured bound")
	}
	if !strings.Contains(err.Error(), "exceeds 8 characters") {
		t.Errorf("expected config-derived message, got %v", err)
	}
}

func TestStartAnalysis_ReturnsImmediatelyAndPollsToCompletion(t *testing.T) {
	backend := &mockBackend{statuses: []string{
		`{"id":"an_1","status":"extracting","progress":20,"currentStep":"Extracting document text","estimatedCompletion":"2026-08-30T12:00:00Z"}`,
		`{"id":"an_1","status":"analyzing","progress":55,"currentStep":"Checking FAR compliance"}`,
		`{"id":"an_1","status":"completed","progress":100}`,
	}}

	var completed []Session
	var mu sync.Mutex
	svc, _ := newTestService(t, backend, Callbacks{
		OnComplete: func(s Session) {
			mu.Lock()
			completed = append(completed, s)
			mu.Unlock()
		},
	})

	result, err := svc.StartAnalysis(context.Background(), Request{ProposalID: "prop-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !result.Success || result.SessionID != "an_1" {
		t.Fatalf("unexpected start result: %+v", result)
	}

	session := waitForStatus(t, svc, "an_1", StatusCompleted)
	if session.Progress != 100 {
		t.Errorf("expected progress 100, got %v", session.Progress)
	}
	if session.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}
	if session.EstimatedCompletionAt == nil {
		t.Error("expected the server's completion forecast to be carried")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 1 {
		t.Errorf("expected exactly one OnComplete, got %d", len(completed))
	}

	// Every scripted state must have come from its own upstream fetch:
	// the status TTL is far longer than the poll interval, so a poller
	// reading through the cache would be stuck on the first answer.
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.fetches < 3 {
		t.Errorf("expected at least 3 upstream status fetches, got %d", backend.fetches)
	}
}

func TestPollLoop_TimeoutForcesFailed(t *testing.T) {
	// Backend never progresses past queued.
	backend := &mockBackend{}

	svc, _ := newTestService(t, backend, Callbacks{})
	// Tighten the budget so exhaustion happens fast.
	svc.cfg.Timeout = 50 * time.Millisecond
	svc.cfg.PollInterval = 10 * time.Millisecond

	if _, err := svc.StartAnalysis(context.Background(), Request{ProposalID: "prop-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	session := waitForStatus(t, svc, "an_1", StatusFailed)
	if session.Error != "Analysis timeout" {
		t.Errorf("expected timeout message, got %q", session.Error)
	}
}

func TestApplySessionUpdate_MonotonicStatusAndProgress(t *testing.T) {
	svc, _ := newTestService(t, &mockBackend{}, Callbacks{})

	svc.mu.Lock()
	svc.sessions["an_x"] = &Session{ID: "an_x", Status: StatusAnalyzing, Progress: 60}
	svc.mu.Unlock()

	// A stale poll answer must not regress the session.
	stale := 30.0
	svc.applySessionUpdate("an_x", sessionPatch{status: StatusExtracting, progress: &stale}, sourcePoll)

	session := svc.Sessions()[0]
	if session.Status != StatusAnalyzing {
		t.Errorf("status regressed to %s", session.Status)
	}
	if session.Progress != 60 {
		t.Errorf("progress regressed to %v", session.Progress)
	}

	// Forward movement still applies.
	fresh := 80.0
	svc.applySessionUpdate("an_x", sessionPatch{status: StatusValidating, progress: &fresh}, sourcePoll)
	session = svc.Sessions()[0]
	if session.Status != StatusValidating || session.Progress != 80 {
		t.Errorf("forward update lost: %s@%v", session.Status, session.Progress)
	}
}

func TestApplySessionUpdate_TerminalIsSticky(t *testing.T) {
	svc, _ := newTestService(t, &mockBackend{}, Callbacks{})

	svc.mu.Lock()
	svc.sessions["an_x"] = &Session{ID: "an_x", Status: StatusCompleted, Progress: 100}
	svc.mu.Unlock()

	p := 10.0
	svc.applySessionUpdate("an_x", sessionPatch{status: StatusFailed, progress: &p, errMsg: "late"}, sourcePush)

	session := svc.Sessions()[0]
	if session.Status != StatusCompleted || session.Progress != 100 || session.Error != "" {
		t.Errorf("terminal session mutated: %+v", session)
	}
}

func TestPushFrames_DriveSessionUpdates(t *testing.T) {
	backend := &mockBackend{pushFrames: make(chan []byte, 8)}
	svc, client := newTestService(t, backend, Callbacks{})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := svc.StartAnalysis(context.Background(), Request{ProposalID: "prop-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	backend.pushFrames <- []byte(`{"type":"analysis_progress","sessionId":"an_1","data":{"progress":70,"currentStep":"Checking DFARS compliance"}}`)

	session := waitForProgress(t, svc, "an_1", 70)
	if session.CurrentStep != "Checking DFARS compliance" {
		t.Errorf("expected step from push frame, got %q", session.CurrentStep)
	}

	backend.pushFrames <- []byte(`{"type":"analysis_complete","sessionId":"an_1","data":{}}`)
	waitForStatus(t, svc, "an_1", StatusCompleted)
}

func TestCancelAnalysis(t *testing.T) {
	backend := &mockBackend{}
	svc, _ := newTestService(t, backend, Callbacks{})

	if _, err := svc.StartAnalysis(context.Background(), Request{ProposalID: "prop-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.CancelAnalysis(context.Background(), "an_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	session := waitForStatus(t, svc, "an_1", StatusFailed)
	if session.Error != "Analysis cancelled by user" {
		t.Errorf("expected cancellation message, got %q", session.Error)
	}

	// Terminal sessions cannot be cancelled again.
	if err := svc.CancelAnalysis(context.Background(), "an_1"); err == nil {
		t.Error("cancelling a terminal session must fail")
	}
}

func TestRetryAnalysis_FailedOnly(t *testing.T) {
	backend := &mockBackend{}
	svc, _ := newTestService(t, backend, Callbacks{})

	if _, err := svc.StartAnalysis(context.Background(), Request{ProposalID: "prop-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Live session: retry refused.
	if _, err := svc.RetryAnalysis(context.Background(), "an_1"); err == nil {
		t.Fatal("retrying a live session must fail")
	}

	if err := svc.CancelAnalysis(context.Background(), "an_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, svc, "an_1", StatusFailed)

	backend.mu.Lock()
	backend.nextID = "an_2"
	backend.mu.Unlock()

	result, err := svc.RetryAnalysis(context.Background(), "an_1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.SessionID != "an_2" {
		t.Errorf("expected fresh session id, got %q", result.SessionID)
	}

	// The failed session is discarded.
	for _, session := range svc.Sessions() {
		if session.ID == "an_1" {
			t.Error("failed session should have been discarded")
		}
	}
}

func TestStatusFromWire(t *testing.T) {
	tests := []struct {
		wire string
		want Status
	}{
		{"queued", StatusQueued},
		{"pending", StatusQueued},
		{"extracting", StatusExtracting},
		{"analyzing", StatusAnalyzing},
		{"processing", StatusAnalyzing},
		{"validating", StatusValidating},
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

func waitForProgress(t *testing.T, svc *Service, id string, want float64) Session {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for _, session := range svc.Sessions() {
			if session.ID == id && session.Progress >= want {
				return session
			}
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached progress %v", id, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
