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

package shure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecrew/micmon/pkg/client"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

func testSource(endpoint string) *models.Source {
	return &models.Source{
		Code:               "shure-hall-a",
		Type:               "shure",
		Endpoint:           endpoint,
		Credentials:        map[string]string{"secret_key": "test-secret"},
		RateLimitPerSecond: 1000,
		Burst:              1000,
		Active:             true,
	}
}

func newTestServer(t *testing.T, pages []devicePage) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "test-secret", r.FormValue("secret_key"))

		resp := accessTokenResponse{Success: true}
		resp.Data.AccessToken = "token-abc"
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	mux.HandleFunc(devicesPath, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token-abc", r.Header.Get("Authorization"))

		page := 0
		if r.URL.Query().Get("from") != "" {
			page = 1
		}

		require.Less(t, page, len(pages))
		require.NoError(t, json.NewEncoder(w).Encode(pages[page]))
	})

	return httptest.NewServer(mux)
}

func makePage(next int, devices ...device) devicePage {
	var page devicePage
	page.Success = true
	page.Data.Results = devices
	page.Data.Count = len(devices)
	page.Data.Next = next

	return page
}

func TestListDevicesPaginatesAndNormalizes(t *testing.T) {
	battery := 85
	rf := 92

	first := makePage(100, device{
		ID:               "rx-1",
		Name:             "Vocal Lead",
		Model:            "AD4D",
		SerialNumber:     "SN-100",
		IPAddress:        "10.1.2.3",
		BatteryPercent:   &battery,
		RFQualityPercent: &rf,
		ChannelName:      "CH 1",
		FrequencyMHz:     "578.250",
	})
	second := makePage(0, device{
		ID:           "rx-2",
		SerialNumber: "SN-101",
		IPAddress:    "10.1.2.4",
	})

	srv := newTestServer(t, []devicePage{first, second})
	defer srv.Close()

	a, err := New(testSource(srv.URL), logger.NewTestLogger())
	require.NoError(t, err)

	updates, err := a.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 2)

	lead := updates[0]
	assert.Equal(t, "shure-hall-a", lead.SourceCode)
	assert.Equal(t, "rx-1", lead.SourceDeviceID)
	assert.Equal(t, "SN-100", lead.SerialNumber)
	assert.Equal(t, "10.1.2.3", lead.NetworkAddress)
	require.NotNil(t, lead.BatteryLevel)
	assert.Equal(t, 85, *lead.BatteryLevel)
	require.NotNil(t, lead.SignalQuality)
	assert.Equal(t, 92, *lead.SignalQuality)
	assert.Equal(t, "AD4D", lead.Attributes["model"])
	assert.Equal(t, "CH 1", lead.Attributes["channel"])

	// Absent telemetry stays unknown, never zero.
	assert.Nil(t, updates[1].BatteryLevel)
	assert.Nil(t, updates[1].SignalQuality)
}

func TestListDevicesSkipsMalformedRecords(t *testing.T) {
	page := makePage(0,
		device{Name: "ghost record, no id"},
		device{ID: "rx-9", SerialNumber: "SN-9"},
	)

	srv := newTestServer(t, []devicePage{page})
	defer srv.Close()

	a, err := New(testSource(srv.URL), logger.NewTestLogger())
	require.NoError(t, err)

	updates, err := a.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1, "one bad record must not abort the listing")
	assert.Equal(t, "rx-9", updates[0].SourceDeviceID)
}

func TestListDevicesPropagatesListingFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		resp := accessTokenResponse{Success: true}
		resp.Data.AccessToken = "token-abc"
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc(devicesPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := testSource(srv.URL)

	a, err := New(source, logger.NewTestLogger())
	require.NoError(t, err)

	// Swap in a client with fast retry timing so the test does not sleep
	// through real backoff intervals.
	a.client = client.New(client.Config{
		SourceCode:        source.Code,
		BaseURL:           source.Endpoint,
		RequestsPerSecond: 1000,
		Burst:             1000,
		RetryBase:         time.Millisecond,
		RetryMax:          5 * time.Millisecond,
	}, logger.NewTestLogger())

	_, err = a.ListDevices(context.Background())
	require.Error(t, err, "listing-level failure must propagate")
}

func TestAccessTokenIsCached(t *testing.T) {
	var tokenCalls int

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls++

		resp := accessTokenResponse{Success: true}
		resp.Data.AccessToken = "token-abc"
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc(devicesPath, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(makePage(0))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := New(testSource(srv.URL), logger.NewTestLogger())
	require.NoError(t, err)

	_, err = a.ListDevices(context.Background())
	require.NoError(t, err)
	_, err = a.ListDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, tokenCalls, "token must be cached across listings")
}

func TestHealthCheckMapsVendorStatus(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		want   models.HealthStatus
	}{
		{name: "ok maps to healthy", vendor: "ok", want: models.HealthHealthy},
		{name: "degraded maps to degraded", vendor: "degraded", want: models.HealthDegraded},
		{name: "anything else is unhealthy", vendor: "rf_interference", want: models.HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(healthResponse{Status: tt.vendor})
			})

			srv := httptest.NewServer(mux)
			defer srv.Close()

			a, err := New(testSource(srv.URL), logger.NewTestLogger())
			require.NoError(t, err)

			result := a.HealthCheck(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.vendor, result.Details["vendor_status"])
		})
	}
}

func TestPushFieldPatchesDevice(t *testing.T) {
	var patched struct {
		path string
		body map[string]string
	}

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		resp := accessTokenResponse{Success: true}
		resp.Data.AccessToken = "token-abc"
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc(devicesPath+"rx-1/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		patched.path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched.body))
		_, _ = w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := New(testSource(srv.URL), logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, a.PushField(context.Background(), "rx-1", "channelName", "CH 7"))
	assert.Equal(t, devicesPath+"rx-1/", patched.path)
	assert.Equal(t, map[string]string{"channelName": "CH 7"}, patched.body)
}
