/*
 * Copyright 2026 StageCrew Systems, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package client provides the rate-limited, retrying HTTP client shared by
// all source adapters.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/stagecrew/micmon/pkg/logger"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxWait        = 10 * time.Second
	defaultRetries        = 3
	defaultRatePerSecond  = 5
	defaultBurst          = 1

	retryBaseInterval = 1 * time.Second
	retryMaxInterval  = 8 * time.Second
)

// HTTPClient abstracts the underlying transport for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds per-source client settings.
type Config struct {
	SourceCode string
	BaseURL    string

	// RequestsPerSecond and Burst size the token bucket. Calls beyond the
	// bucket block up to MaxWait, then fail fast as a rate-limit error;
	// they are never silently dropped.
	RequestsPerSecond float64
	Burst             int
	MaxWait           time.Duration

	RequestTimeout time.Duration
	MaxRetries     uint

	// RetryBase and RetryMax override the backoff window. Test hooks;
	// production uses the 1s..8s defaults.
	RetryBase time.Duration
	RetryMax  time.Duration

	InsecureSkipVerify bool
	Breaker            *BreakerConfig
}

// Client is a rate-limited HTTP client for one source. It owns no state
// beyond rate-limit bookkeeping and the circuit breaker.
type Client struct {
	config  Config
	http    HTTPClient
	limiter *rate.Limiter
	breaker *Breaker
	logger  logger.Logger

	headerMu sync.RWMutex
	headers  map[string]string
}

// New creates a client for the given source configuration.
func New(config Config, log logger.Logger) *Client {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaultRatePerSecond
	}

	if config.Burst <= 0 {
		config.Burst = defaultBurst
	}

	if config.MaxWait <= 0 {
		config.MaxWait = defaultMaxWait
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = defaultRetries
	}

	if config.RetryBase <= 0 {
		config.RetryBase = retryBaseInterval
	}

	if config.RetryMax <= 0 {
		config.RetryMax = retryMaxInterval
	}

	breakerCfg := DefaultBreakerConfig()
	if config.Breaker != nil {
		breakerCfg = *config.Breaker
	}

	//nolint:gosec // InsecureSkipVerify is operator-configured per source
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		config:  config,
		http:    &http.Client{Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker: NewBreaker(config.SourceCode, breakerCfg, log),
		logger:  log,
		headers: make(map[string]string),
	}
}

// SetTransport replaces the underlying transport. Test hook.
func (c *Client) SetTransport(h HTTPClient) {
	c.http = h
}

// SetHeader sets a header applied to every request, replacing any previous
// value. Adapters use this for bearer tokens that rotate at run time.
func (c *Client) SetHeader(name, value string) {
	c.headerMu.Lock()
	defer c.headerMu.Unlock()

	c.headers[name] = value
}

// Get issues a rate-limited GET against path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, "", nil)
}

// PostForm issues a rate-limited form POST against path.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// Patch issues a rate-limited JSON PATCH against path. Used by push-back.
func (c *Client) Patch(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, path, nil, "application/json", strings.NewReader(string(body)))
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// do runs one logical request through the retry policy. Each attempt
// consumes a rate token and passes through the circuit breaker.
func (c *Client) do(
	ctx context.Context, method, path string, params url.Values,
	contentType string, body io.Reader) ([]byte, error) {
	// Form bodies must be rebuildable per attempt.
	var bodyStr string

	if body != nil {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}

		bodyStr = string(raw)
	}

	operation := func() ([]byte, error) {
		var reader io.Reader
		if bodyStr != "" {
			reader = strings.NewReader(bodyStr)
		}

		payload, err := c.attempt(ctx, method, path, params, contentType, reader)
		if err != nil {
			return nil, c.classify(err)
		}

		return payload, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.config.RetryBase
	expo.Multiplier = 2
	expo.MaxInterval = c.config.RetryMax

	payload, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.config.MaxRetries+1),
	)
	if err != nil {
		return nil, fmt.Errorf("source %s: %s %s: %w", c.config.SourceCode, method, path, err)
	}

	return payload, nil
}

// classify maps an attempt error onto the retry policy: auth failures and
// client errors are permanent, 429 honors Retry-After, everything else
// (network errors, 5xx) stays retryable.
func (c *Client) classify(err error) error {
	statusErr, ok := asStatusError(err)
	if !ok {
		// Network-level failure: timeout, connection reset. Retryable.
		return err
	}

	switch {
	case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: status %d", ErrAuthFailed, statusErr.StatusCode))
	case statusErr.StatusCode == http.StatusTooManyRequests:
		if statusErr.RetryAfter > 0 {
			return backoff.RetryAfter(statusErr.RetryAfter)
		}

		return statusErr
	case statusErr.Transient():
		return statusErr
	default:
		return backoff.Permanent(statusErr)
	}
}

// attempt performs a single HTTP exchange: token wait, breaker check,
// request, status screening.
func (c *Client) attempt(
	ctx context.Context, method, path string, params url.Values,
	contentType string, body io.Reader) ([]byte, error) {
	if err := c.waitForToken(ctx); err != nil {
		return nil, err
	}

	if !c.breaker.Allow() {
		return nil, backoff.Permanent(fmt.Errorf("%w: source %s", ErrCircuitOpen, c.config.SourceCode))
	}

	payload, err := c.exchange(ctx, method, path, params, contentType, body)
	c.breaker.Record(err)

	return payload, err
}

// waitForToken blocks for a rate token, bounded by MaxWait. Expiry fails
// fast instead of hanging the cycle.
func (c *Client) waitForToken(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.config.MaxWait)
	defer cancel()

	if err := c.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		return backoff.Permanent(fmt.Errorf("%w: no token within %s", ErrRateLimited, c.config.MaxWait))
	}

	return nil
}

func (c *Client) exchange(
	ctx context.Context, method, path string, params url.Values,
	contentType string, body io.Reader) ([]byte, error) {
	reqURL := c.config.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.headerMu.RLock()
	for name, value := range c.headers {
		req.Header.Set(name, value)
	}
	c.headerMu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(payload),
		}
	}

	return payload, nil
}

func parseRetryAfter(value string) int {
	if value == "" {
		return 0
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}

	return seconds
}

func asStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}

	return nil, false
}
