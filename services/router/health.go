// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"sync"
	"time"
)

// waitPollInterval is the probe cadence for WaitForService.
const waitPollInterval = 2 * time.Second

// ServiceStatus is a point-in-time health verdict.
type ServiceStatus struct {
	// Healthy is true when the service reported "healthy" or
	// "degraded". Degraded still serves traffic.
	Healthy bool

	// BaseURL is the service root the verdict applies to.
	BaseURL string

	// Status is the raw status string from the service, or "unreachable"
	// when the probe itself failed.
	Status string

	// Version is the service version, when reported.
	Version string

	// CheckedAt is when the probe completed.
	CheckedAt time.Time
}

// HealthMonitor probes the AI Router service's health endpoint and
// caches the verdict so hot paths can gate on availability without a
// network round trip per call.
//
// # Thread Safety
//
// Safe for concurrent use.
type HealthMonitor struct {
	http     *HTTPClient
	cacheTTL time.Duration

	mu      sync.Mutex
	last    *ServiceStatus
	expires time.Time

	// now is swapped in tests to control the cache window.
	now func() time.Time
}

// NewHealthMonitor creates a monitor over the given transport.
// cacheTTL bounds how long a verdict is trusted before a fresh probe.
func NewHealthMonitor(http *HTTPClient, cacheTTL time.Duration) *HealthMonitor {
	return &HealthMonitor{
		http:     http,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// CheckHealth probes the service immediately, bypassing the verdict
// cache, and records the fresh verdict.
//
// A probe failure is not an error: it yields an unhealthy verdict
// with Status "unreachable". The returned error is reserved for
// context cancellation.
func (m *HealthMonitor) CheckHealth(ctx context.Context) (ServiceStatus, error) {
	if err := ctx.Err(); err != nil {
		return ServiceStatus{}, err
	}

	var resp HealthResponse
	err := m.http.Get(ctx, "/api/health", &resp, 0)

	status := ServiceStatus{BaseURL: m.http.BaseURL(), CheckedAt: m.clock()}
	if err != nil {
		status.Status = "unreachable"
	} else {
		status.Status = resp.Status
		status.Version = resp.Version
		status.Healthy = resp.Status == "healthy" || resp.Status == "degraded"
	}

	m.mu.Lock()
	m.last = &status
	m.expires = status.CheckedAt.Add(m.cacheTTL)
	m.mu.Unlock()

	return status, nil
}

// IsServiceHealthy returns the cached verdict when it is still fresh,
// probing only when the cache window has lapsed.
func (m *HealthMonitor) IsServiceHealthy(ctx context.Context) bool {
	m.mu.Lock()
	if m.last != nil && m.clock().Before(m.expires) {
		healthy := m.last.Healthy
		m.mu.Unlock()
		return healthy
	}
	m.mu.Unlock()

	status, err := m.CheckHealth(ctx)
	if err != nil {
		return false
	}
	return status.Healthy
}

// LastStatus returns the most recent verdict, fresh or stale, or nil
// when no probe has run yet.
func (m *HealthMonitor) LastStatus() *ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	s := *m.last
	return &s
}

// WaitForService polls IsServiceHealthy every 2 seconds until the
// service reports healthy or the context expires, and reports the
// outcome as a plain boolean. The cached verdict applies: an unhealthy
// answer is re-probed only once its cache window lapses.
func (m *HealthMonitor) WaitForService(ctx context.Context) bool {
	for {
		if m.IsServiceHealthy(ctx) {
			return true
		}
		if err := sleepCtx(ctx, waitPollInterval); err != nil {
			return false
		}
	}
}

func (m *HealthMonitor) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}
