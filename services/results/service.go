// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package results fetches, caches and derives compliance analysis
// reports: issue aggregation, scoring, statistics and export.
package results

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seventeensierra/proposal-prepper/pkg/logging"
	"github.com/seventeensierra/proposal-prepper/services/router"
)

// Severity levels for compliance issues.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Issue is one compliance finding.
type Issue struct {
	ID          string
	Severity    string
	Title       string
	Description string
	Framework   string
	Section     string
	Reference   string
	Location    *Location
	Remediation string
}

// Location pinpoints where in the document an issue was found.
type Location struct {
	Page    int
	Section string
	Text    string
}

// Summary aggregates a report's issue counts and derived score.
type Summary struct {
	TotalIssues    int
	CriticalIssues int
	WarningIssues  int
	InfoIssues     int

	// OverallScore is the derived compliance score in [0,100]:
	// 100 minus 20 per critical, 10 per warning, 5 per info issue,
	// floored at zero.
	OverallScore int
}

// ComplianceResults is the full report for one analyzed proposal.
type ComplianceResults struct {
	ID          string
	ProposalID  string
	Status      string
	Issues      []Issue
	Summary     Summary
	GeneratedAt time.Time
}

// Statistics breaks a report's issues down by severity and framework.
type Statistics struct {
	BySeverity  map[string]int
	ByFramework map[string]int
}

// Callbacks receive store events. Nil fields are skipped.
type Callbacks struct {
	OnResultsUpdate func(results ComplianceResults)
}

// Service is the results store.
//
// Reports are immutable once produced, so the local cache has no TTL;
// entries live until ClearCache.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	client    *router.Client
	callbacks Callbacks
	logger    *logging.Logger

	mu    sync.RWMutex
	cache map[string]*ComplianceResults
}

// NewService creates a results store over the shared transport.
func NewService(client *router.Client, callbacks Callbacks, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		client:    client,
		callbacks: callbacks,
		logger:    logger,
		cache:     make(map[string]*ComplianceResults),
	}
}

// deriveScore computes the compliance score from issue counts:
// max(0, 100 - 20*critical - 10*warning - 5*info).
func deriveScore(critical, warning, info int) int {
	score := 100 - 20*critical - 10*warning - 5*info
	if score < 0 {
		return 0
	}
	return score
}

// mapResults converts the wire shape into the domain report,
// recomputing issue counts from the issue list rather than trusting
// the server's summary, and deriving the overall score.
func mapResults(resp *router.ComplianceResultsResponse) *ComplianceResults {
	issues := make([]Issue, 0, len(resp.Issues))
	var critical, warning, info int
	for _, wi := range resp.Issues {
		issue := Issue{
			ID:          wi.ID,
			Severity:    wi.Severity,
			Title:       wi.Title,
			Description: wi.Description,
			Framework:   wi.Regulation.Framework,
			Section:     wi.Regulation.Section,
			Reference:   wi.Regulation.Reference,
			Remediation: wi.Remediation,
		}
		if wi.Location != nil {
			issue.Location = &Location{
				Page:    wi.Location.Page,
				Section: wi.Location.Section,
				Text:    wi.Location.Text,
			}
		}
		switch wi.Severity {
		case SeverityCritical:
			critical++
		case SeverityWarning:
			warning++
		case SeverityInfo:
			info++
		}
		issues = append(issues, issue)
	}

	return &ComplianceResults{
		ID:         resp.ID,
		ProposalID: resp.ProposalID,
		Status:     resp.Status,
		Issues:     issues,
		Summary: Summary{
			TotalIssues:    len(issues),
			CriticalIssues: critical,
			WarningIssues:  warning,
			InfoIssues:     info,
			OverallScore:   deriveScore(critical, warning, info),
		},
		GeneratedAt: resp.GeneratedAt,
	}
}

// GetResults returns the compliance report for a proposal's analysis
// session.
//
// # Inputs
//
//   - ctx: bounds the fetch
//   - proposalID: the analysis session whose report to load
//   - useCache: false forces a fresh fetch, replacing any cached copy
func (s *Service) GetResults(ctx context.Context, proposalID string, useCache bool) (*ComplianceResults, error) {
	if useCache {
		s.mu.RLock()
		if cached, ok := s.cache[proposalID]; ok {
			out := cloneResults(cached)
			s.mu.RUnlock()
			return out, nil
		}
		s.mu.RUnlock()
	}

	if !useCache {
		// Forced refresh evicts the HTTP-layer entry too.
		s.client.HTTP().InvalidateGet(fmt.Sprintf("/api/analysis/%s/results", proposalID))
	}
	resp, err := s.client.GetResults(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	results := mapResults(resp)
	if results.ProposalID == "" {
		results.ProposalID = proposalID
	}

	s.mu.Lock()
	s.cache[proposalID] = results
	s.mu.Unlock()

	s.logger.Info("results loaded",
		"proposal_id", proposalID,
		"issues", results.Summary.TotalIssues,
		"score", results.Summary.OverallScore,
	)

	out := cloneResults(results)
	if s.callbacks.OnResultsUpdate != nil {
		s.callbacks.OnResultsUpdate(*out)
	}
	return out, nil
}

// cloneResults deep-copies a report so callers cannot mutate cached
// state.
func cloneResults(r *ComplianceResults) *ComplianceResults {
	out := *r
	out.Issues = make([]Issue, len(r.Issues))
	copy(out.Issues, r.Issues)
	for i, issue := range r.Issues {
		if issue.Location != nil {
			loc := *issue.Location
			out.Issues[i].Location = &loc
		}
	}
	return &out
}

// GetIssueDetails fetches the expanded record for one issue.
func (s *Service) GetIssueDetails(ctx context.Context, issueID string) (*Issue, error) {
	resp, err := s.client.GetIssueDetails(ctx, issueID)
	if err != nil {
		return nil, err
	}
	issue := Issue{
		ID:          resp.ID,
		Severity:    resp.Severity,
		Title:       resp.Title,
		Description: resp.Description,
		Framework:   resp.Regulation.Framework,
		Section:     resp.Regulation.Section,
		Reference:   resp.Regulation.Reference,
		Remediation: resp.Remediation,
	}
	if resp.Location != nil {
		issue.Location = &Location{
			Page:    resp.Location.Page,
			Section: resp.Location.Section,
			Text:    resp.Location.Text,
		}
	}
	return &issue, nil
}

// FilterIssuesBySeverity returns the report's issues matching the
// given severity.
func (s *Service) FilterIssuesBySeverity(results *ComplianceResults, severity string) []Issue {
	if results == nil {
		return nil
	}
	var out []Issue
	for _, issue := range results.Issues {
		if issue.Severity == severity {
			out = append(out, issue)
		}
	}
	return out
}

// GetIssueStatistics breaks the report's issues down by severity and
// regulatory framework.
func (s *Service) GetIssueStatistics(results *ComplianceResults) Statistics {
	stats := Statistics{
		BySeverity:  make(map[string]int),
		ByFramework: make(map[string]int),
	}
	if results == nil {
		return stats
	}
	for _, issue := range results.Issues {
		stats.BySeverity[issue.Severity]++
		if issue.Framework != "" {
			stats.ByFramework[issue.Framework]++
		}
	}
	return stats
}

// GetRegulatoryReferences maps each framework to the sorted unique
// sections its issues cite.
func (s *Service) GetRegulatoryReferences(results *ComplianceResults) map[string][]string {
	out := make(map[string][]string)
	if results == nil {
		return out
	}
	seen := make(map[string]map[string]bool)
	for _, issue := range results.Issues {
		if issue.Framework == "" || issue.Section == "" {
			continue
		}
		if seen[issue.Framework] == nil {
			seen[issue.Framework] = make(map[string]bool)
		}
		if !seen[issue.Framework][issue.Section] {
			seen[issue.Framework][issue.Section] = true
			out[issue.Framework] = append(out[issue.Framework], issue.Section)
		}
	}
	for framework := range out {
		sort.Strings(out[framework])
	}
	return out
}

// GetRemediationGuidance returns remediation texts for the report's
// issues of the given severity, in report order. Issues without
// remediation are skipped.
func (s *Service) GetRemediationGuidance(results *ComplianceResults, severity string) []string {
	var out []string
	if results == nil {
		return out
	}
	for _, issue := range results.Issues {
		if issue.Severity == severity && issue.Remediation != "" {
			out = append(out, issue.Remediation)
		}
	}
	return out
}

// HasResults reports whether a completed report exists for the
// proposal, checking the local cache before the server.
func (s *Service) HasResults(ctx context.Context, proposalID string) bool {
	s.mu.RLock()
	_, cached := s.cache[proposalID]
	s.mu.RUnlock()
	if cached {
		return true
	}
	results, err := s.GetResults(ctx, proposalID, true)
	return err == nil && results != nil && results.Status == "completed"
}

// ClearCache drops the cached report for one proposal, or all cached
// reports when proposalID is empty.
func (s *Service) ClearCache(proposalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if proposalID == "" {
		s.cache = make(map[string]*ComplianceResults)
		return
	}
	delete(s.cache, proposalID)
}
