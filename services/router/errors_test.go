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
	"net"
	"syscall"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCode
	}{
		{400, CodeValidationFailed},
		{404, CodeValidationFailed},
		{422, CodeValidationFailed},
		{499, CodeValidationFailed},
		{500, CodeServiceError},
		{502, CodeServiceError},
		{503, CodeServiceError},
	}
	for _, tc := range tests {
		if got := classifyStatus(tc.status); got != tc.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"conn refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, CodeServiceUnavailable},
		{"conn reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, CodeServiceUnavailable},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "router.invalid"}, CodeServiceUnavailable},
		{"generic", errors.New("broken pipe elsewhere"), CodeNetworkError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyErr(tc.err); got != tc.want {
				t.Errorf("classifyErr(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if retryable(CodeValidationFailed) {
		t.Error("validation failures must be terminal")
	}
	for _, code := range []ErrorCode{CodeNetworkError, CodeTimeout, CodeServiceUnavailable, CodeServiceError} {
		if !retryable(code) {
			t.Errorf("%s should be retryable", code)
		}
	}
}

func TestAsError_WrapsUntypedErrors(t *testing.T) {
	plain := errors.New("something odd")
	typed := AsError(plain)
	if typed.Code != CodeNetworkError {
		t.Errorf("expected %s, got %s", CodeNetworkError, typed.Code)
	}

	orig := NewError(CodeUploadFailed, "Upload failed")
	if AsError(orig) != orig {
		t.Error("typed errors must pass through unchanged")
	}
}
