// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorCode categorizes transport and operation failures for
// programmatic handling. The string values are stable and surface in
// API payloads and logs; callers switch on them to pick recovery
// behavior.
type ErrorCode string

const (
	// CodeUploadFailed indicates a document upload terminated without
	// server confirmation.
	CodeUploadFailed ErrorCode = "UPLOAD_001"

	// CodeAnalysisFailed indicates an analysis run reached a terminal
	// failure.
	CodeAnalysisFailed ErrorCode = "ANALYSIS_001"

	// CodeValidationFailed indicates bad input, either rejected locally
	// or by the server with a 4xx status. Never retried.
	CodeValidationFailed ErrorCode = "VALIDATION_001"

	// CodeNetworkError is the catch-all for transport failures that
	// fit no more specific category.
	CodeNetworkError ErrorCode = "NETWORK_001"

	// CodeTimeout indicates a request or operation exceeded its bound.
	CodeTimeout ErrorCode = "TIMEOUT_001"

	// CodeServiceUnavailable indicates a connection-level failure or a
	// failed health gate: the backend could not be reached at all.
	CodeServiceUnavailable ErrorCode = "SERVICE_002"

	// CodeServiceError indicates the backend answered with a 5xx.
	CodeServiceError ErrorCode = "SERVICE_003"
)

// Error is the typed failure returned across the transport boundary.
//
// Transport-level failures are classified and returned as values of
// this type, never as panics; session managers convert them into
// Failed session states plus callbacks.
type Error struct {
	// Code categorizes the failure.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Status is the HTTP status when the server answered, zero
	// otherwise.
	Status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts a *Error from err, wrapping foreign errors as
// CodeNetworkError so callers always see the typed form.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: classifyErr(err), Message: err.Error()}
}

// classifyStatus maps an HTTP status to its error code.
func classifyStatus(status int) ErrorCode {
	switch {
	case status >= 400 && status < 500:
		return CodeValidationFailed
	case status >= 500:
		return CodeServiceError
	default:
		return CodeNetworkError
	}
}

// classifyErr maps a transport error to its error code.
//
// Deadline expiry is a timeout; connection refused, unreachable hosts
// and DNS failures mean the service is absent; everything else is a
// generic network error.
func classifyErr(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return CodeServiceUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeServiceUnavailable
	}
	return CodeNetworkError
}

// retryable reports whether a failed attempt should be retried.
// Client errors (4xx) are terminal; server errors and transport
// failures are retried until the attempt budget is exhausted.
func retryable(code ErrorCode) bool {
	return code != CodeValidationFailed
}
