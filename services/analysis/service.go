// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis manages compliance analysis sessions: starting
// runs, tracking their progress through polling and push updates, and
// enforcing the session state machine.
//
// Poll answers and push frames race by nature; both funnel through a
// single update path that keeps sessions monotonic, so a stale poll
// landing after a push completion can never regress a session.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/pkg/logging"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

// Status is the lifecycle state of an analysis session.
type Status string

const (
	// StatusQueued means the run is accepted but not started.
	StatusQueued Status = "queued"

	// StatusExtracting means document text extraction is underway.
	StatusExtracting Status = "extracting"

	// StatusAnalyzing means compliance rules are being evaluated.
	StatusAnalyzing Status = "analyzing"

	// StatusValidating means findings are being cross-checked.
	StatusValidating Status = "validating"

	// StatusCompleted means results are available. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed means the run ended without results, including
	// cancellation and timeout. Terminal.
	StatusFailed Status = "failed"
)

// statusRank orders the pipeline states so updates can be compared.
// Failed sits above every live state: any live session may fail, but
// a terminal session never moves again.
func statusRank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusExtracting:
		return 1
	case StatusAnalyzing:
		return 2
	case StatusValidating:
		return 3
	case StatusCompleted:
		return 4
	case StatusFailed:
		return 5
	default:
		return -1
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is the client-side record of one analysis run.
type Session struct {
	// ID is the server-assigned analysis session ID.
	ID string

	// ProposalID identifies the proposal under analysis.
	ProposalID string

	// Status is the current pipeline state.
	Status Status

	// Progress is the completion percentage in [0,100].
	Progress float64

	// CurrentStep is the human-readable step label from the service.
	CurrentStep string

	// StartedAt is when the run was accepted.
	StartedAt time.Time

	// CompletedAt is set when the session reaches a terminal state.
	CompletedAt *time.Time

	// EstimatedCompletionAt is the server's completion forecast, when
	// it reports one.
	EstimatedCompletionAt *time.Time

	// Error holds the failure message for Failed sessions.
	Error string
}

// Request describes one analysis run to start.
type Request struct {
	// ProposalID identifies the proposal. Required; its length is
	// bounded by config.AnalysisConfig.MaxProposalIDLength.
	ProposalID string `json:"proposal_id" validate:"required"`

	// DocumentID references an uploaded document.
	DocumentID string `json:"document_id"`

	// Filename is the original document filename, for display.
	Filename string `json:"filename"`

	// S3Key optionally points at the stored document object.
	S3Key string `json:"s3_key,omitempty"`

	// Frameworks selects the compliance frameworks to evaluate.
	// Empty means all supported frameworks.
	Frameworks []string `json:"frameworks" validate:"omitempty,dive,oneof=FAR DFARS"`
}

// StartResult is the immediate answer from StartAnalysis; the run
// itself continues in the background.
type StartResult struct {
	Success   bool
	SessionID string
}

// Callbacks receive session lifecycle events. Nil fields are skipped.
type Callbacks struct {
	OnProgress func(session Session)
	OnComplete func(session Session)
	OnError    func(session Session, err error)
}

// updateSource labels where a session patch came from, for logs.
type updateSource string

const (
	sourcePoll   updateSource = "poll"
	sourcePush   updateSource = "push"
	sourceLocal  updateSource = "local"
	sourceServer updateSource = "server"
)

// Service manages analysis sessions against the AI Router service.
//
// # Thread Safety
//
// Safe for concurrent use. Poll loops and push handlers mutate
// sessions only through applySessionUpdate under the service mutex.
type Service struct {
	client    *router.Client
	cfg       config.AnalysisConfig
	callbacks Callbacks
	logger    *logging.Logger
	validate  *validator.Validate

	mu       sync.Mutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc

	subs []*router.Subscription
}

// NewService creates an analysis manager and binds the push topics.
func NewService(client *router.Client, cfg config.AnalysisConfig, callbacks Callbacks, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		client:    client,
		cfg:       cfg,
		callbacks: callbacks,
		logger:    logger,
		validate:  validator.New(),
		sessions:  make(map[string]*Session),
		cancels:   make(map[string]context.CancelFunc),
	}
	s.bindPushTopics()
	return s
}

// ValidateAnalysisRequest checks a request locally before it is sent.
// The proposal-ID length bound comes from configuration; struct tags
// cover the static constraints.
func (s *Service) ValidateAnalysisRequest(req Request) error {
	if err := s.validate.Struct(req); err != nil {
		return router.NewError(router.CodeValidationFailed, validationMessage(err))
	}
	if len(req.ProposalID) > s.cfg.MaxProposalIDLength {
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("Proposal ID exceeds %d characters", s.cfg.MaxProposalIDLength))
	}
	return nil
}

// validationMessage maps validator failures to user-facing text.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid analysis request"
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "ProposalID" && fe.Tag() == "required":
		return "Proposal ID is required"
	case fe.Tag() == "oneof":
		return fmt.Sprintf("Unsupported compliance framework %q", fe.Value())
	default:
		return fmt.Sprintf("Invalid field %s", fe.Field())
	}
}

// unmarshalData decodes a push frame's Data payload.
func unmarshalData(msg router.Message, out any) error {
	return json.Unmarshal(msg.Data, out)
}

// StartAnalysis validates and submits a run, then returns immediately
// while a background loop polls the session to its terminal state.
//
// # Outputs
//
//   - StartResult: SessionID of the accepted run
//   - error: validation failure, service unavailability, or submit
//     failure; no session is tracked on error
func (s *Service) StartAnalysis(ctx context.Context, req Request) (StartResult, error) {
	if err := s.ValidateAnalysisRequest(req); err != nil {
		return StartResult{}, err
	}

	frameworks := req.Frameworks
	if len(frameworks) == 0 {
		frameworks = s.cfg.Frameworks
	}

	resp, err := s.client.StartAnalysis(ctx, router.StartAnalysisRequest{
		ProposalID: req.ProposalID,
		DocumentID: req.DocumentID,
		Filename:   req.Filename,
		S3Key:      req.S3Key,
		Frameworks: frameworks,
	})
	if err != nil {
		return StartResult{}, err
	}

	startedAt := resp.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.sessions[resp.ID] = &Session{
		ID:          resp.ID,
		ProposalID:  req.ProposalID,
		Status:      StatusQueued,
		StartedAt:   startedAt,
		CurrentStep: resp.CurrentStep,
	}
	s.cancels[resp.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("analysis started", "session_id", resp.ID, "proposal_id", req.ProposalID)
	go s.pollLoop(pollCtx, resp.ID)

	return StartResult{Success: true, SessionID: resp.ID}, nil
}

// pollLoop drives a session to its terminal state by periodic status
// fetches. Each fetch bypasses the transport's GET cache; the poll
// cadence is faster than the status TTL, so a cached read would pin
// every poll to the first answer. The attempt budget derives from the
// overall timeout; when it runs out the session is forced Failed.
func (s *Service) pollLoop(ctx context.Context, id string) {
	maxAttempts := int(math.Ceil(float64(s.cfg.Timeout) / float64(s.cfg.PollInterval)))
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	defer s.dropCancel(id)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp, err := s.client.RefreshAnalysisStatus(ctx, id)
		if err != nil {
			s.logger.Warn("analysis status poll failed", "session_id", id, "error", err.Error())
			continue
		}

		terminal := s.applySessionUpdate(id, patchFromWire(resp), sourcePoll)
		if terminal {
			return
		}
	}

	s.applySessionUpdate(id, sessionPatch{
		status: StatusFailed,
		errMsg: "Analysis timeout",
	}, sourceLocal)
}

func (s *Service) dropCancel(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
		return
	}
	s.mu.Unlock()
}

// sessionPatch is one candidate session update from any source.
// Zero-valued fields are left untouched.
type sessionPatch struct {
	status      Status
	progress    *float64
	currentStep string
	errMsg      string
	completedAt *time.Time
	estimatedAt *time.Time
}

// patchFromWire maps a server status answer onto a patch.
func patchFromWire(resp *router.AnalysisSessionResponse) sessionPatch {
	progress := resp.Progress
	return sessionPatch{
		status:      statusFromWire(resp.Status),
		progress:    &progress,
		currentStep: resp.CurrentStep,
		errMsg:      resp.ErrorMessage,
		completedAt: resp.CompletedAt,
		estimatedAt: resp.EstimatedCompletion,
	}
}

// statusFromWire maps the server's status strings onto the local
// pipeline enum.
func statusFromWire(status string) Status {
	switch status {
	case "queued", "pending":
		return StatusQueued
	case "extracting":
		return StatusExtracting
	case "analyzing", "processing":
		return StatusAnalyzing
	case "validating":
		return StatusValidating
	case "completed":
		return StatusCompleted
	case "failed", "cancelled", "error":
		return StatusFailed
	default:
		return StatusQueued
	}
}

// applySessionUpdate is the single mutation path for sessions.
// Updates are monotonic: status never moves backwards in pipeline
// order, progress never decreases, and terminal sessions never change.
// Returns whether the session is terminal after the update.
func (s *Service) applySessionUpdate(id string, patch sessionPatch, source updateSource) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return true
	}
	if session.Status.Terminal() {
		s.mu.Unlock()
		return true
	}

	changed := false
	if patch.status != "" && statusRank(patch.status) > statusRank(session.Status) {
		session.Status = patch.status
		changed = true
	}
	if patch.progress != nil && *patch.progress > session.Progress {
		session.Progress = *patch.progress
		changed = true
	}
	if patch.currentStep != "" && patch.currentStep != session.CurrentStep {
		session.CurrentStep = patch.currentStep
		changed = true
	}
	if patch.estimatedAt != nil {
		session.EstimatedCompletionAt = patch.estimatedAt
	}
	if session.Status == StatusFailed && patch.errMsg != "" {
		session.Error = patch.errMsg
		changed = true
	}
	if session.Status.Terminal() {
		if patch.completedAt != nil {
			session.CompletedAt = patch.completedAt
		} else {
			now := time.Now()
			session.CompletedAt = &now
		}
		if session.Status == StatusCompleted {
			session.Progress = 100
		}
	}
	snapshot := *session
	terminal := session.Status.Terminal()
	s.mu.Unlock()

	if !changed {
		return terminal
	}

	s.logger.Debug("analysis session updated",
		"session_id", id,
		"status", string(snapshot.Status),
		"progress", snapshot.Progress,
		"source", string(source),
	)

	switch {
	case snapshot.Status == StatusCompleted:
		if s.callbacks.OnComplete != nil {
			s.callbacks.OnComplete(snapshot)
		}
	case snapshot.Status == StatusFailed:
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(snapshot, router.NewError(router.CodeAnalysisFailed, snapshot.Error))
		}
	default:
		if s.callbacks.OnProgress != nil {
			s.callbacks.OnProgress(snapshot)
		}
	}

	return terminal
}

// bindPushTopics subscribes the push channel topics feeding live
// session updates.
func (s *Service) bindPushTopics() {
	socket := s.client.Socket()

	s.subs = append(s.subs, socket.Subscribe(router.TopicAnalysisProgress, func(msg router.Message) {
		var data router.ProgressData
		if err := unmarshalData(msg, &data); err != nil {
			s.logger.Warn("bad analysis_progress frame", "session_id", msg.SessionID, "error", err.Error())
			return
		}
		progress := data.Progress
		s.applySessionUpdate(msg.SessionID, sessionPatch{
			progress:    &progress,
			currentStep: data.CurrentStep,
		}, sourcePush)
	}))

	s.subs = append(s.subs, socket.Subscribe(router.TopicAnalysisComplete, func(msg router.Message) {
		s.applySessionUpdate(msg.SessionID, sessionPatch{
			status: StatusCompleted,
		}, sourcePush)
	}))

	s.subs = append(s.subs, socket.Subscribe(router.TopicError, func(msg router.Message) {
		var data router.ErrorData
		if err := unmarshalData(msg, &data); err != nil {
			s.logger.Warn("bad error frame", "session_id", msg.SessionID, "error", err.Error())
			return
		}
		msgText := data.Error
		if msgText == "" {
			msgText = "Analysis failed"
		}
		s.applySessionUpdate(msg.SessionID, sessionPatch{
			status: StatusFailed,
			errMsg: msgText,
		}, sourcePush)
	}))
}

// Close unsubscribes push topics and stops all poll loops.
func (s *Service) Close() {
	socket := s.client.Socket()
	for _, sub := range s.subs {
		socket.Unsubscribe(sub)
	}
	s.subs = nil

	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for id, cancel := range s.cancels {
		cancels = append(cancels, cancel)
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// GetAnalysisStatus returns the session state, consulting the server
// for sessions that are not terminal locally.
func (s *Service) GetAnalysisStatus(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	var snapshot Session
	if ok {
		snapshot = *session
	}
	s.mu.Unlock()

	if ok && snapshot.Status.Terminal() {
		return &snapshot, nil
	}

	resp, err := s.client.GetAnalysisStatus(ctx, id)
	if err != nil {
		if ok {
			return &snapshot, nil
		}
		return nil, err
	}

	if !ok {
		s.mu.Lock()
		session = &Session{
			ID:         resp.ID,
			ProposalID: resp.ProposalID,
			Status:     StatusQueued,
			StartedAt:  resp.StartedAt,
		}
		s.sessions[resp.ID] = session
		s.mu.Unlock()
	}
	s.applySessionUpdate(id, patchFromWire(resp), sourceServer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		out := *session
		return &out, nil
	}
	return &snapshot, nil
}

// CancelAnalysis asks the server to stop the run, then marks the
// session Failed locally. Only live sessions can be cancelled.
func (s *Service) CancelAnalysis(ctx context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return router.NewError(router.CodeValidationFailed, fmt.Sprintf("Unknown analysis session %q", id))
	}
	if session.Status.Terminal() {
		s.mu.Unlock()
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("Analysis session %q is %s and cannot be cancelled", id, session.Status))
	}
	s.mu.Unlock()

	if err := s.client.CancelAnalysis(ctx, id); err != nil {
		s.logger.Warn("server-side cancel failed", "session_id", id, "error", err.Error())
	}

	s.applySessionUpdate(id, sessionPatch{
		status: StatusFailed,
		errMsg: "Analysis cancelled by user",
	}, sourceLocal)
	s.dropCancel(id)
	return nil
}

// RetryAnalysis starts a fresh run for a Failed session's proposal.
// The failed session is discarded; the new run gets a new session ID.
func (s *Service) RetryAnalysis(ctx context.Context, id string) (StartResult, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return StartResult{}, router.NewError(router.CodeValidationFailed, fmt.Sprintf("Unknown analysis session %q", id))
	}
	if session.Status != StatusFailed {
		s.mu.Unlock()
		return StartResult{}, router.NewError(router.CodeValidationFailed,
			"Only failed analysis sessions can be retried")
	}
	proposalID := session.ProposalID
	delete(s.sessions, id)
	s.mu.Unlock()

	return s.StartAnalysis(ctx, Request{ProposalID: proposalID})
}

// Sessions returns snapshots of all tracked sessions.
func (s *Service) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	return out
}
