// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/pkg/logging"
)

// HTTPClient executes logical JSON requests against the AI Router
// service with bounded retries, linear backoff, per-attempt timeouts
// and a time-boxed GET cache.
//
// # Retry Policy
//
// A logical request performs up to MaxRetries+1 attempts. Attempt N>1
// waits N-1 times RetryDelay first. A 4xx answer is terminal and never
// retried; 5xx answers and transport errors are retried until the
// budget is exhausted, then surfaced as a classified *Error.
//
// # Caching
//
// Get with a positive TTL consults the response cache under key
// "GET:"+endpoint before touching the network, and writes successful
// bodies back with that TTL. Concurrent misses for one key are
// collapsed into a single upstream fetch.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	cache      *responseCache
	flight     singleflight.Group
	limiter    *rate.Limiter
	logger     *logging.Logger

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient creates a transport bound to cfg.BaseURL.
//
// # Inputs
//
//   - cfg: transport settings (timeout, retries, backoff, rate cap)
//   - logger: destination for retry/cache diagnostics; nil uses a
//     no-op logger
func NewHTTPClient(cfg config.APIConfig, logger *logging.Logger) *HTTPClient {
	if logger == nil {
		logger = logging.Nop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		client:     &http.Client{},
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		cache:      newResponseCache(),
		limiter:    limiter,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// BaseURL returns the service root this client talks to.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// ClearCache drops all cached GET responses.
func (c *HTTPClient) ClearCache() {
	c.cache.Purge()
}

// InvalidateGet evicts the cached response for one GET endpoint so
// the next Get refetches.
func (c *HTTPClient) InvalidateGet(endpoint string) {
	c.cache.Delete("GET:" + endpoint)
}

// Get executes a GET with optional response caching.
//
// A cache hit short-circuits the network call. On a miss the response
// body is stored under "GET:"+endpoint with the supplied TTL; a
// non-positive TTL disables caching for this call.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, out any, ttl time.Duration) error {
	key := "GET:" + endpoint

	if data, ok := c.cache.Get(key); ok {
		cacheEvents.WithLabelValues("hit").Inc()
		return decodeBody(data, out)
	}
	cacheEvents.WithLabelValues("miss").Inc()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		data, doErr := c.do(ctx, http.MethodGet, endpoint, nil)
		if doErr != nil {
			return nil, doErr
		}
		c.cache.Set(key, data, ttl)
		return data, nil
	})
	if err != nil {
		return err
	}
	return decodeBody(v.([]byte), out)
}

// GetFresh executes a GET that skips the cache lookup and goes
// straight upstream, refreshing the stored entry with the supplied
// TTL on success. Poll loops use it so a cached answer can never mask
// a state change between polls.
func (c *HTTPClient) GetFresh(ctx context.Context, endpoint string, out any, ttl time.Duration) error {
	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.cache.Set("GET:"+endpoint, data, ttl)
	return decodeBody(data, out)
}

// Post executes a POST with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, endpoint string, body, out any) error {
	data, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return decodeBody(data, out)
}

// Delete executes a DELETE.
func (c *HTTPClient) Delete(ctx context.Context, endpoint string, out any) error {
	data, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return decodeBody(data, out)
}

// do runs the retry loop for one logical request and returns the
// unwrapped response body.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			outcome := NewError(CodeValidationFailed, fmt.Sprintf("encode request body: %v", err))
			requestsTotal.WithLabelValues(method, string(outcome.Code)).Inc()
			return nil, outcome
		}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
			c.logger.Warn("retrying request",
				"method", method,
				"endpoint", endpoint,
				"attempt", attempt+1,
				"max_attempts", c.maxRetries+1,
				"error", lastErr.Error(),
			)
			if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				requestsTotal.WithLabelValues(method, string(lastErr.Code)).Inc()
				return nil, lastErr
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				outcome := AsError(err)
				requestsTotal.WithLabelValues(method, string(outcome.Code)).Inc()
				return nil, outcome
			}
		}

		data, attemptErr := c.attempt(ctx, method, endpoint, payload)
		if attemptErr == nil {
			requestsTotal.WithLabelValues(method, "OK").Inc()
			return data, nil
		}

		lastErr = attemptErr
		if !retryable(attemptErr.Code) {
			break
		}
	}

	requestsTotal.WithLabelValues(method, string(lastErr.Code)).Inc()
	return nil, lastErr
}

// attempt executes a single HTTP attempt under the per-attempt
// timeout.
func (c *HTTPClient) attempt(ctx context.Context, method, endpoint string, payload []byte) ([]byte, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, NewError(CodeValidationFailed, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Code: classifyErr(err), Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: classifyErr(err), Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Code:    classifyStatus(resp.StatusCode),
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Status:  resp.StatusCode,
		}
	}

	return unwrapEnvelope(data), nil
}

// ProgressFunc receives fractional upload progress in [0,100].
type ProgressFunc func(percent float64)

// UploadWithProgress streams file as multipart form data, reporting
// fractional progress on every read tick.
//
// Upload is a single attempt: a partially-transmitted document must
// not be blindly re-sent, so the retry loop does not apply here.
// Terminal outcomes map to CodeUploadFailed (non-2xx), CodeTimeout,
// or a classified transport error.
func (c *HTTPClient) UploadWithProgress(ctx context.Context, endpoint string, file File, onProgress ProgressFunc) (*UploadSessionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: file.Content, total: file.Size, onTick: onProgress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+endpoint, pr)
	if err != nil {
		return nil, NewError(CodeUploadFailed, fmt.Sprintf("build upload request: %v", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		code := classifyErr(err)
		msg := "Upload network error"
		if code == CodeTimeout {
			msg = "Upload timeout"
		}
		requestsTotal.WithLabelValues(http.MethodPost, string(code)).Inc()
		return nil, &Error{Code: code, Message: msg}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(http.MethodPost, string(CodeNetworkError)).Inc()
		return nil, &Error{Code: CodeNetworkError, Message: fmt.Sprintf("read upload response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues(http.MethodPost, string(CodeUploadFailed)).Inc()
		return nil, &Error{
			Code:    CodeUploadFailed,
			Message: fmt.Sprintf("Upload failed: %s", http.StatusText(resp.StatusCode)),
			Status:  resp.StatusCode,
		}
	}

	var session UploadSessionResponse
	if err := json.Unmarshal(unwrapEnvelope(data), &session); err != nil {
		requestsTotal.WithLabelValues(http.MethodPost, string(CodeUploadFailed)).Inc()
		return nil, NewError(CodeUploadFailed, "Failed to parse upload response")
	}

	requestsTotal.WithLabelValues(http.MethodPost, "OK").Inc()
	return &session, nil
}

// progressReader counts bytes flowing through it and reports the
// running fraction of total on every read.
type progressReader struct {
	r      io.Reader
	total  int64
	loaded int64
	onTick ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		if p.onTick != nil && p.total > 0 {
			percent := float64(p.loaded) / float64(p.total) * 100
			if percent > 100 {
				percent = 100
			}
			p.onTick(percent)
		}
	}
	return n, err
}

// decodeBody unmarshals data into out, skipping when out is nil.
func decodeBody(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewError(CodeNetworkError, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
