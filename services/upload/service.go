// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package upload manages document upload sessions: local validation,
// streaming transfer with progress callbacks, session bookkeeping and
// real-time push updates.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/pkg/logging"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	// StatusPending means the session is registered but no bytes have
	// moved yet.
	StatusPending Status = "pending"

	// StatusUploading means bytes are in flight.
	StatusUploading Status = "uploading"

	// StatusProcessing means the server received the document and is
	// post-processing it before acknowledging.
	StatusProcessing Status = "processing"

	// StatusCompleted means the server acknowledged the document.
	// Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed means the upload ended without a stored document,
	// including user cancellation. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is the client-side record of one upload.
type Session struct {
	// ID is the provisional client ID until the server acknowledges,
	// then the server-assigned document ID.
	ID string

	// Filename is the original filename.
	Filename string

	// FileSize is the declared size in bytes.
	FileSize int64

	// MIMEType is the document's declared media type.
	MIMEType string

	// Status is the current lifecycle state.
	Status Status

	// Progress is the transfer percentage in [0,100].
	Progress float64

	// StartedAt is when the upload began.
	StartedAt time.Time

	// CompletedAt is set when the session reaches a terminal state.
	CompletedAt *time.Time

	// Error holds the failure message for Failed sessions.
	Error string
}

// Callbacks receive session lifecycle events. Nil fields are skipped.
// Callbacks run on the goroutine that produced the event; keep them
// fast.
type Callbacks struct {
	OnProgress func(session Session)
	OnComplete func(session Session)
	OnError    func(session Session, err error)
}

// Service manages upload sessions against the AI Router service.
//
// # Thread Safety
//
// Safe for concurrent use. Sessions returned by accessors are copies;
// mutating them does not affect the manager's state.
type Service struct {
	client    *router.Client
	cfg       config.UploadConfig
	callbacks Callbacks
	logger    *logging.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	active    int
	cancelled map[string]bool

	pushSub *router.Subscription
}

// NewService creates an upload manager.
//
// # Inputs
//
//   - client: shared transport facade
//   - cfg: validation limits and concurrency policy
//   - callbacks: lifecycle event sinks; zero value disables them
//   - logger: diagnostics destination; nil uses a no-op logger
func NewService(client *router.Client, cfg config.UploadConfig, callbacks Callbacks, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		client:    client,
		cfg:       cfg,
		callbacks: callbacks,
		logger:    logger,
		sessions:  make(map[string]*Session),
		cancelled: make(map[string]bool),
	}
}

// Validate checks a file against the configured limits without
// touching the network. Each violated constraint yields its own
// distinct message.
func (s *Service) Validate(file router.File) error {
	accepted := false
	for _, mime := range s.cfg.AcceptedTypes {
		if file.MIMEType == mime {
			accepted = true
			break
		}
	}
	if !accepted {
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("File type %q is not supported. Only PDF documents are accepted.", file.MIMEType))
	}
	if file.Size > s.cfg.MaxFileSize {
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("File is too large (%d bytes). Maximum size is %d bytes.", file.Size, s.cfg.MaxFileSize))
	}
	if file.Size < s.cfg.MinFileSize {
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("File is too small (%d bytes). Minimum size is %d bytes.", file.Size, s.cfg.MinFileSize))
	}
	if len(file.Name) > s.cfg.MaxFilenameLength {
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("Filename exceeds %d characters.", s.cfg.MaxFilenameLength))
	}
	return nil
}

// newProvisionalID mints the client-side session ID used until the
// server assigns the real document ID: "upload_<unix-ms>_<nonce>".
func newProvisionalID() string {
	return fmt.Sprintf("upload_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Upload validates and transfers a document, tracking the session
// through progress ticks to a terminal state.
//
// # Inputs
//
//   - ctx: bounds the transfer
//   - file: the document; Content is consumed
//   - existingSessionID: reuse an existing session ID (retry flows);
//     empty mints a provisional one
//
// # Outputs
//
//   - *Session: the terminal session snapshot
//   - error: validation failure, concurrency rejection, or the
//     transfer error; the session also records it
func (s *Service) Upload(ctx context.Context, file router.File, existingSessionID string) (*Session, error) {
	if err := s.Validate(file); err != nil {
		return nil, err
	}

	id := existingSessionID
	if id == "" {
		id = newProvisionalID()
	}

	s.mu.Lock()
	if s.active >= s.cfg.MaxConcurrentUploads {
		s.mu.Unlock()
		return nil, router.NewError(router.CodeUploadFailed,
			"Another upload is already in progress. Please wait for it to finish.")
	}
	s.active++
	session := &Session{
		ID:        id,
		Filename:  file.Name,
		FileSize:  file.Size,
		MIMEType:  file.MIMEType,
		Status:    StatusUploading,
		StartedAt: time.Now(),
	}
	s.sessions[id] = session
	delete(s.cancelled, id)
	s.mu.Unlock()

	s.logger.Info("upload started", "session_id", id, "filename", file.Name, "size", file.Size)

	resp, err := s.client.UploadDocument(ctx, file, func(percent float64) {
		s.recordProgress(id, percent)
	})

	s.mu.Lock()
	s.active--
	cancelled := s.cancelled[id]
	delete(s.cancelled, id)
	s.mu.Unlock()

	if cancelled {
		snapshot := s.failSession(id, "Upload cancelled by user")
		return snapshot, router.NewError(router.CodeUploadFailed, "Upload cancelled by user")
	}
	if err != nil {
		snapshot := s.failSession(id, router.AsError(err).Message)
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(*snapshot, err)
		}
		s.logger.Warn("upload failed", "session_id", id, "error", err.Error())
		return snapshot, err
	}

	snapshot := s.completeSession(id, resp.ID)
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(*snapshot)
	}
	s.logger.Info("upload completed", "session_id", snapshot.ID, "filename", file.Name)
	return snapshot, nil
}

// recordProgress applies a progress tick. Terminal sessions ignore
// late ticks, and progress never moves backwards.
func (s *Service) recordProgress(id string, percent float64) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok || session.Status.Terminal() || percent < session.Progress {
		s.mu.Unlock()
		return
	}
	session.Progress = percent
	snapshot := *session
	s.mu.Unlock()

	if s.callbacks.OnProgress != nil {
		s.callbacks.OnProgress(snapshot)
	}
}

// completeSession marks a session Completed and re-keys it from the
// provisional ID to the server-assigned document ID. A session that
// already settled terminally, such as one cancelled mid-transfer, is
// left untouched.
func (s *Service) completeSession(id, serverID string) *Session {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		session = &Session{ID: id, StartedAt: now}
		s.sessions[id] = session
	}
	if session.Status.Terminal() {
		snapshot := *session
		return &snapshot
	}
	if serverID != "" && serverID != id {
		delete(s.sessions, id)
		session.ID = serverID
		s.sessions[serverID] = session
	}
	session.Status = StatusCompleted
	session.Progress = 100
	session.CompletedAt = &now
	snapshot := *session
	return &snapshot
}

// failSession marks a session Failed unless it is already terminal.
func (s *Service) failSession(id, message string) *Session {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		session = &Session{ID: id, StartedAt: now}
		s.sessions[id] = session
	}
	if !session.Status.Terminal() {
		session.Status = StatusFailed
		session.Error = message
		session.CompletedAt = &now
	}
	snapshot := *session
	return &snapshot
}

// CancelUpload cancels an in-flight upload. The session flips to
// Failed "Upload cancelled by user" immediately, so a status read
// right after cancelling already sees the terminal state. The
// in-flight transfer itself is not aborted mid-request; when it
// settles, terminal stickiness keeps the cancelled verdict. Only
// Uploading sessions can be cancelled.
func (s *Service) CancelUpload(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return router.NewError(router.CodeValidationFailed, fmt.Sprintf("Unknown upload session %q", id))
	}
	if session.Status != StatusUploading {
		s.mu.Unlock()
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("Upload session %q is %s and cannot be cancelled", id, session.Status))
	}
	s.cancelled[id] = true
	s.mu.Unlock()

	s.failSession(id, "Upload cancelled by user")
	s.logger.Info("upload cancelled", "session_id", id)
	return nil
}

// GetUploadStatus returns the session state. In-flight sessions
// answer from local state, where progress callbacks keep the record
// fresher than the server's view; completed or unknown sessions are
// reconciled against the server.
func (s *Service) GetUploadStatus(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	var snapshot Session
	if ok {
		snapshot = *session
	}
	s.mu.Unlock()

	if ok && snapshot.Status != StatusCompleted {
		return &snapshot, nil
	}

	resp, err := s.client.GetUploadStatus(ctx, id)
	if err != nil {
		if ok {
			return &snapshot, nil
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok = s.sessions[id]
	if !ok {
		session = &Session{
			ID:        resp.ID,
			Filename:  resp.Filename,
			FileSize:  resp.FileSize,
			MIMEType:  resp.MimeType,
			StartedAt: resp.StartedAt,
		}
		s.sessions[resp.ID] = session
	}
	if !session.Status.Terminal() {
		session.Status = statusFromWire(resp.Status)
		session.Progress = resp.Progress
		session.Error = resp.ErrorMessage
		session.CompletedAt = resp.CompletedAt
	}
	if session.MIMEType == "" {
		session.MIMEType = resp.MimeType
	}
	out := *session
	return &out, nil
}

// statusFromWire maps the server's status string onto the local enum,
// preserving each live stage.
func statusFromWire(status string) Status {
	switch status {
	case "pending":
		return StatusPending
	case "processing":
		return StatusProcessing
	case "completed":
		return StatusCompleted
	case "failed", "cancelled":
		return StatusFailed
	default:
		return StatusUploading
	}
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

// ClearSession drops a terminal session from local tracking. An
// in-flight session cannot be cleared.
func (s *Service) ClearSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if !session.Status.Terminal() {
		return router.NewError(router.CodeValidationFailed,
			fmt.Sprintf("Upload session %q is still in progress", id))
	}
	delete(s.sessions, id)
	return nil
}

// ClearAllSessions drops every tracked session unconditionally,
// unlike ClearSession which refuses in-flight ones.
func (s *Service) ClearAllSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

// SimulateUpload registers a seeded demo document server-side and
// tracks it as a completed session.
func (s *Service) SimulateUpload(ctx context.Context, filename string) (*Session, error) {
	resp, err := s.client.SimulateUpload(ctx, filename)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	session := &Session{
		ID:          resp.ID,
		Filename:    resp.Filename,
		FileSize:    resp.FileSize,
		MIMEType:    resp.MimeType,
		Status:      StatusCompleted,
		Progress:    100,
		StartedAt:   resp.StartedAt,
		CompletedAt: &now,
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	s.sessions[resp.ID] = session
	snapshot := *session
	s.mu.Unlock()

	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(snapshot)
	}
	return &snapshot, nil
}

// SubscribeToRealTimeUpdates binds the upload_progress push topic so
// server-side progress frames update local sessions. Call once; a
// second call replaces the previous subscription.
func (s *Service) SubscribeToRealTimeUpdates() {
	s.mu.Lock()
	prev := s.pushSub
	s.mu.Unlock()
	if prev != nil {
		s.client.Socket().Unsubscribe(prev)
	}

	sub := s.client.Socket().Subscribe(router.TopicUploadProgress, func(msg router.Message) {
		var data router.ProgressData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Warn("bad upload_progress frame", "session_id", msg.SessionID, "error", err.Error())
			return
		}
		s.recordProgress(msg.SessionID, data.Progress)
	})

	s.mu.Lock()
	s.pushSub = sub
	s.mu.Unlock()
}

// Unsubscribe removes the push binding installed by
// SubscribeToRealTimeUpdates.
func (s *Service) Unsubscribe() {
	s.mu.Lock()
	sub := s.pushSub
	s.pushSub = nil
	s.mu.Unlock()
	if sub != nil {
		s.client.Socket().Unsubscribe(sub)
	}
}
