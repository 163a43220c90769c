// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the AI Router Transport
// =============================================================================

var (
	// requestsTotal counts logical requests by terminal outcome.
	// Labels: method, code (error code, or "OK" on success)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepper",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Total logical HTTP requests by terminal outcome",
	}, []string{"method", "code"})

	// retriesTotal counts individual retry attempts beyond the first.
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "prepper",
		Subsystem: "router",
		Name:      "retries_total",
		Help:      "Total HTTP retry attempts",
	})

	// requestDuration measures logical request latency including
	// retries and backoff waits.
	// Labels: method
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prepper",
		Subsystem: "router",
		Name:      "request_duration_seconds",
		Help:      "Logical request latency including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method"})

	// cacheEvents counts GET cache hits and misses.
	// Labels: result (hit, miss)
	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepper",
		Subsystem: "router",
		Name:      "cache_events_total",
		Help:      "GET response cache hits and misses",
	}, []string{"result"})

	// wsReconnects counts successful WebSocket reconnections.
	wsReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "prepper",
		Subsystem: "router",
		Name:      "ws_reconnects_total",
		Help:      "Successful WebSocket reconnections",
	})

	// wsMessages counts inbound WebSocket frames by type.
	// Labels: type (upload_progress, analysis_progress,
	// analysis_complete, error, invalid)
	wsMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepper",
		Subsystem: "router",
		Name:      "ws_messages_total",
		Help:      "Inbound WebSocket frames by type",
	}, []string{"type"})
)
