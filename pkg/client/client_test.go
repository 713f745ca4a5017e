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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	return New(Config{
		SourceCode:        "test-source",
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
		Burst:             1000,
		RetryBase:         time.Millisecond,
		RetryMax:          5 * time.Millisecond,
	}, logger.NewTestLogger())
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	payload, err := c.Get(context.Background(), "/devices", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientRetriesExhaust(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Get(context.Background(), "/devices", nil)
	require.Error(t, err)
	// 1 initial try + 3 retries
	assert.Equal(t, int32(4), calls.Load())
}

func TestClientDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Get(context.Background(), "/devices", nil)
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, int32(1), calls.Load(), "401 must surface immediately without retry")
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Get(context.Background(), "/devices", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientHonorsRetryAfterHint(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	started := time.Now()

	_, err := c.Get(context.Background(), "/devices", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(started), 900*time.Millisecond,
		"second attempt must wait out the Retry-After hint")
}

func TestClientRateLimitDelaysRatherThanDrops(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{
		SourceCode:        "limited",
		BaseURL:           srv.URL,
		RequestsPerSecond: 5,
		Burst:             1,
		MaxWait:           5 * time.Second,
		RetryBase:         time.Millisecond,
	}, logger.NewTestLogger())

	started := time.Now()

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "/devices", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls.Load(), "excess requests are delayed, never dropped")
	assert.GreaterOrEqual(t, time.Since(started), 350*time.Millisecond,
		"3 requests at 5 rps with burst 1 need two 200ms token waits")
}

func TestClientMaxWaitFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{
		SourceCode:        "starved",
		BaseURL:           srv.URL,
		RequestsPerSecond: 0.1,
		Burst:             1,
		MaxWait:           50 * time.Millisecond,
		RetryBase:         time.Millisecond,
	}, logger.NewTestLogger())

	_, err := c.Get(context.Background(), "/devices", nil)
	require.NoError(t, err, "burst token covers the first request")

	started := time.Now()

	_, err = c.Get(context.Background(), "/devices", nil)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Less(t, time.Since(started), time.Second, "token starvation must fail fast, not hang")
}

func TestClientAppliesConfiguredHeaders(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetHeader("Authorization", "Bearer token-1")

	_, err := c.Get(context.Background(), "/devices", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", gotAuth)

	c.SetHeader("Authorization", "Bearer token-2")

	_, err = c.Get(context.Background(), "/devices", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-2", gotAuth)
}

func TestHealthCheckStatuses(t *testing.T) {
	t.Run("healthy on 200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		result := newTestClient(t, srv.URL).HealthCheck(context.Background(), "/health")
		assert.Equal(t, models.HealthHealthy, result.Status)
		assert.True(t, result.Healthy())
	})

	t.Run("unhealthy on auth failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		result := newTestClient(t, srv.URL).HealthCheck(context.Background(), "/health")
		assert.Equal(t, models.HealthUnhealthy, result.Status)
		assert.NotEmpty(t, result.Err)
	})

	t.Run("error on unreachable source", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		srv.Close()

		result := newTestClient(t, srv.URL).HealthCheck(context.Background(), "/health")
		assert.Equal(t, models.HealthError, result.Status)
	})
}
