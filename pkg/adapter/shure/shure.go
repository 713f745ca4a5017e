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

// Package shure integrates with Shure SystemOn-style wireless controllers.
package shure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/stagecrew/micmon/pkg/client"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

const (
	tokenPath   = "/api/v1/access_token/"
	devicesPath = "/api/v1/devices/"
	healthPath  = "/api/v1/health/"

	defaultPageSize = 100

	// Controller tokens last an hour; refresh with margin.
	tokenLifetime = 45 * time.Minute
)

var (
	errMissingSecretKey = errors.New("shure: credential secret_key is required")
	errTokenRejected    = errors.New("shure: token request rejected")
	errListingFailed    = errors.New("shure: device listing rejected")
)

// Adapter polls a Shure SystemOn controller.
type Adapter struct {
	source   *models.Source
	client   *client.Client
	logger   logger.Logger
	pageSize int

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a SystemOn adapter for the configured source.
func New(source *models.Source, log logger.Logger) (*Adapter, error) {
	if source.Credentials["secret_key"] == "" {
		return nil, errMissingSecretKey
	}

	c := client.New(client.Config{
		SourceCode:        source.Code,
		BaseURL:           source.Endpoint,
		RequestsPerSecond: source.RateLimitPerSecond,
		Burst:             source.Burst,
		MaxWait:           time.Duration(source.MaxWait),
		RequestTimeout:    time.Duration(source.RequestTimeout),
	}, log)

	return &Adapter{
		source:   source,
		client:   c,
		logger:   log,
		pageSize: defaultPageSize,
	}, nil
}

// SourceCode identifies the configured source this adapter serves.
func (a *Adapter) SourceCode() string {
	return a.source.Code
}

// ListDevices pages through the controller's device listing and normalizes
// each record. A malformed record is skipped and logged; it never aborts
// the listing.
func (a *Adapter) ListDevices(ctx context.Context) ([]*models.DeviceUpdate, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	a.client.SetHeader("Authorization", token)

	updates := make([]*models.DeviceUpdate, 0, a.pageSize)
	from := 0

	for {
		page, err := a.fetchPage(ctx, from)
		if err != nil {
			return nil, err
		}

		for i := range page.Data.Results {
			update, ok := a.transform(&page.Data.Results[i])
			if !ok {
				continue
			}

			updates = append(updates, update)
		}

		if page.Data.Next == 0 {
			break
		}

		from = page.Data.Next
	}

	a.logger.Debug().
		Str("source", a.source.Code).
		Int("devices", len(updates)).
		Msg("Fetched device listing from SystemOn")

	return updates, nil
}

func (a *Adapter) fetchPage(ctx context.Context, from int) (*devicePage, error) {
	params := url.Values{}
	params.Set("length", strconv.Itoa(a.pageSize))

	if from > 0 {
		params.Set("from", strconv.Itoa(from))
	}

	payload, err := a.client.Get(ctx, devicesPath, params)
	if err != nil {
		return nil, err
	}

	var page devicePage
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("failed to parse device page: %w", err)
	}

	if !page.Success {
		return nil, errListingFailed
	}

	return &page, nil
}

// transform maps one vendor record into the canonical update shape.
// Returns false for records that cannot identify a device.
func (a *Adapter) transform(d *device) (*models.DeviceUpdate, bool) {
	if d.ID == "" {
		a.logger.Warn().
			Str("source", a.source.Code).
			Str("name", d.Name).
			Msg("Skipping device record without an id")

		return nil, false
	}

	attrs := map[string]string{
		"vendor": "shure",
	}

	if d.Name != "" {
		attrs["name"] = d.Name
	}

	if d.Model != "" {
		attrs["model"] = d.Model
	}

	if d.ChannelName != "" {
		attrs["channel"] = d.ChannelName
	}

	if d.FrequencyMHz != "" {
		attrs["frequency_mhz"] = d.FrequencyMHz
	}

	if d.FirmwareVersion != "" {
		attrs["firmware_version"] = d.FirmwareVersion
	}

	if d.Muted != nil {
		attrs["muted"] = strconv.FormatBool(*d.Muted)
	}

	raw, err := json.Marshal(d)
	if err != nil {
		raw = nil
	}

	return &models.DeviceUpdate{
		SourceCode:     a.source.Code,
		SourceDeviceID: d.ID,
		SerialNumber:   d.SerialNumber,
		NetworkAddress: d.IPAddress,
		BatteryLevel:   d.BatteryPercent,
		SignalQuality:  d.RFQualityPercent,
		Attributes:     attrs,
		RawPayload:     raw,
		Timestamp:      time.Now(),
	}, true
}

// HealthCheck maps controller health into the standard envelope: the
// connectivity probe first, then the vendor's own status field.
func (a *Adapter) HealthCheck(ctx context.Context) models.HealthResult {
	payload, err := a.client.Get(ctx, healthPath, nil)
	if err != nil {
		return a.client.HealthCheck(ctx, healthPath)
	}

	result := models.HealthResult{
		Status:    models.HealthHealthy,
		Timestamp: time.Now(),
		Details:   map[string]string{"vendor": "shure"},
	}

	var health healthResponse
	if err := json.Unmarshal(payload, &health); err != nil {
		return result
	}

	result.Details["vendor_status"] = health.Status

	switch health.Status {
	case "ok", "":
	case "degraded":
		result.Status = models.HealthDegraded
	default:
		result.Status = models.HealthUnhealthy
	}

	return result
}

// PushField writes a single field back to the controller. Callers hold the
// per-device lock for the duration of the call.
func (a *Adapter) PushField(ctx context.Context, sourceDeviceID, field, value string) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	a.client.SetHeader("Authorization", token)

	body, err := json.Marshal(map[string]string{field: value})
	if err != nil {
		return err
	}

	if _, err := a.client.Patch(ctx, devicesPath+sourceDeviceID+"/", body); err != nil {
		return fmt.Errorf("push %s=%s to device %s: %w", field, value, sourceDeviceID, err)
	}

	return nil
}

// accessToken returns a cached token when still valid, otherwise requests a
// new one from the controller.
func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.token != "" && time.Now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("secret_key", a.source.Credentials["secret_key"])

	payload, err := a.client.PostForm(ctx, tokenPath, form)
	if err != nil {
		return "", err
	}

	var tokenResp accessTokenResponse
	if err := json.Unmarshal(payload, &tokenResp); err != nil {
		return "", err
	}

	if !tokenResp.Success || tokenResp.Data.AccessToken == "" {
		return "", errTokenRejected
	}

	a.token = tokenResp.Data.AccessToken
	a.tokenExpiry = time.Now().Add(tokenLifetime)

	return a.token, nil
}
