// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router is the transport layer for the AI Router compliance
// service: an HTTP client with retry, backoff and response caching, a
// WebSocket push channel with automatic reconnection, and a health
// monitor gating expensive operations on service availability.
//
// Higher-level session managers (services/upload, services/analysis,
// services/results) build on the Client facade defined here; nothing
// above this package touches the wire directly.
package router

import (
	"context"
	"fmt"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/pkg/logging"
)

// Client is the single entry point to the AI Router service. It owns
// the HTTP transport, the WebSocket push channel and the health
// monitor, and exposes the service's operations as typed calls.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	http   *HTTPClient
	socket *SocketClient
	health *HealthMonitor
	logger *logging.Logger
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithLogger sets the logger for the client and its transports.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client from the resolved configuration.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{logger: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.http = NewHTTPClient(cfg.API, c.logger.With("component", "http"))
	c.socket = NewSocketClient(cfg.API.BaseURL, cfg.Websocket, c.logger.With("component", "socket"))
	c.health = NewHealthMonitor(c.http, cfg.API.HealthCheckCache)
	return c
}

// HTTP exposes the underlying HTTP transport.
func (c *Client) HTTP() *HTTPClient {
	return c.http
}

// Socket exposes the push channel for subscription management.
func (c *Client) Socket() *SocketClient {
	return c.socket
}

// Health exposes the health monitor.
func (c *Client) Health() *HealthMonitor {
	return c.health
}

// Connect establishes the WebSocket push channel.
func (c *Client) Connect(ctx context.Context) error {
	return c.socket.Connect(ctx)
}

// Close tears down the push channel and drops cached responses.
func (c *Client) Close() error {
	c.http.ClearCache()
	return c.socket.Close()
}

// ============================================================
// Upload operations
// ============================================================

// UploadDocument streams a document to the service, reporting
// progress through onProgress.
func (c *Client) UploadDocument(ctx context.Context, file File, onProgress ProgressFunc) (*UploadSessionResponse, error) {
	if !c.health.IsServiceHealthy(ctx) {
		return nil, NewError(CodeServiceUnavailable, "Upload service is currently unavailable")
	}
	return c.http.UploadWithProgress(ctx, "/api/documents/upload", file, onProgress)
}

// GetUploadStatus fetches the server-side state of an upload session.
// Answers are cached briefly; upload state settles quickly.
func (c *Client) GetUploadStatus(ctx context.Context, uploadID string) (*UploadSessionResponse, error) {
	var resp UploadSessionResponse
	endpoint := fmt.Sprintf("/api/documents/upload/%s", uploadID)
	if err := c.http.Get(ctx, endpoint, &resp, config.UploadStatusTTL); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelUpload asks the service to abandon an in-flight upload.
func (c *Client) CancelUpload(ctx context.Context, uploadID string) error {
	endpoint := fmt.Sprintf("/api/documents/upload/%s", uploadID)
	return c.http.Delete(ctx, endpoint, nil)
}

// ============================================================
// Analysis operations
// ============================================================

// StartAnalysis submits a compliance analysis request. The service
// must be reachable; a start against a down service fails fast with
// CodeServiceUnavailable instead of burning the retry budget.
func (c *Client) StartAnalysis(ctx context.Context, req StartAnalysisRequest) (*AnalysisSessionResponse, error) {
	if !c.health.IsServiceHealthy(ctx) {
		return nil, NewError(CodeServiceUnavailable, "Analysis service is currently unavailable")
	}
	var resp AnalysisSessionResponse
	if err := c.http.Post(ctx, "/api/analysis/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAnalysisStatus fetches the current state of an analysis session.
// Answers are cached briefly; interactive readers tolerate a slightly
// stale view. Poll loops must use RefreshAnalysisStatus instead.
func (c *Client) GetAnalysisStatus(ctx context.Context, analysisID string) (*AnalysisSessionResponse, error) {
	var resp AnalysisSessionResponse
	endpoint := fmt.Sprintf("/api/analysis/%s", analysisID)
	if err := c.http.Get(ctx, endpoint, &resp, config.AnalysisStatusTTL); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshAnalysisStatus fetches the session state straight from the
// service, bypassing the status cache, and refreshes the cached entry
// for interactive readers. The poll loop depends on this: with the
// cache in the path every poll inside the TTL would repeat the same
// answer and the poller could never observe a state change.
func (c *Client) RefreshAnalysisStatus(ctx context.Context, analysisID string) (*AnalysisSessionResponse, error) {
	var resp AnalysisSessionResponse
	endpoint := fmt.Sprintf("/api/analysis/%s", analysisID)
	if err := c.http.GetFresh(ctx, endpoint, &resp, config.AnalysisStatusTTL); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAnalysis asks the service to stop an in-flight analysis.
func (c *Client) CancelAnalysis(ctx context.Context, analysisID string) error {
	endpoint := fmt.Sprintf("/api/analysis/%s", analysisID)
	return c.http.Delete(ctx, endpoint, nil)
}

// ============================================================
// Results operations
// ============================================================

// GetResults fetches the full compliance report for a completed
// analysis. Reports are immutable once produced, so answers cache for
// several minutes.
func (c *Client) GetResults(ctx context.Context, analysisID string) (*ComplianceResultsResponse, error) {
	var resp ComplianceResultsResponse
	endpoint := fmt.Sprintf("/api/analysis/%s/results", analysisID)
	if err := c.http.Get(ctx, endpoint, &resp, config.ResultsTTL); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetIssueDetails fetches the expanded record for one compliance
// issue.
func (c *Client) GetIssueDetails(ctx context.Context, issueID string) (*ComplianceIssueResponse, error) {
	var resp ComplianceIssueResponse
	endpoint := fmt.Sprintf("/api/results/issues/%s", issueID)
	if err := c.http.Get(ctx, endpoint, &resp, config.IssueDetailTTL); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ============================================================
// Simulation
// ============================================================

// SimulateUpload registers a seeded demo document server-side without
// transferring any bytes. Used by demos and integration rigs when no
// real document exists on disk.
func (c *Client) SimulateUpload(ctx context.Context, filename string) (*UploadSessionResponse, error) {
	if !c.health.IsServiceHealthy(ctx) {
		return nil, NewError(CodeServiceUnavailable, "Upload service is currently unavailable")
	}
	var resp UploadSessionResponse
	body := map[string]string{"filename": filename}
	if err := c.http.Post(ctx, "/api/documents/simulate-upload", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
