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

// Package sennheiser integrates with Sennheiser WSM-style gateways.
package sennheiser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/stagecrew/micmon/pkg/client"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

const (
	devicesPath = "/api/wsm/v1/devices/"
	statusPath  = "/api/wsm/v1/system/status/"

	maxPages = 50
)

var errMissingAPIToken = errors.New("sennheiser: credential api_token is required")

// Adapter polls a Sennheiser WSM gateway.
type Adapter struct {
	source *models.Source
	client *client.Client
	logger logger.Logger
}

// New creates a WSM adapter for the configured source.
func New(source *models.Source, log logger.Logger) (*Adapter, error) {
	token := source.Credentials["api_token"]
	if token == "" {
		return nil, errMissingAPIToken
	}

	c := client.New(client.Config{
		SourceCode:        source.Code,
		BaseURL:           source.Endpoint,
		RequestsPerSecond: source.RateLimitPerSecond,
		Burst:             source.Burst,
		MaxWait:           time.Duration(source.MaxWait),
		RequestTimeout:    time.Duration(source.RequestTimeout),
	}, log)
	c.SetHeader("Authorization", "Token "+token)

	return &Adapter{
		source: source,
		client: c,
		logger: log,
	}, nil
}

// SourceCode identifies the configured source this adapter serves.
func (a *Adapter) SourceCode() string {
	return a.source.Code
}

// ListDevices walks the gateway's paginated device listing.
func (a *Adapter) ListDevices(ctx context.Context) ([]*models.DeviceUpdate, error) {
	var updates []*models.DeviceUpdate

	path := devicesPath
	params := url.Values{}

	for page := 0; page < maxPages; page++ {
		payload, err := a.client.Get(ctx, path, params)
		if err != nil {
			return nil, err
		}

		var listing deviceListResponse
		if err := json.Unmarshal(payload, &listing); err != nil {
			return nil, fmt.Errorf("failed to parse device listing: %w", err)
		}

		if updates == nil {
			updates = make([]*models.DeviceUpdate, 0, listing.Count)
		}

		for i := range listing.Results {
			update, ok := a.transform(&listing.Results[i])
			if !ok {
				continue
			}

			updates = append(updates, update)
		}

		if listing.Next == "" {
			break
		}

		next, err := url.Parse(listing.Next)
		if err != nil {
			a.logger.Warn().
				Str("source", a.source.Code).
				Str("next", listing.Next).
				Msg("Unparseable next-page URL, stopping pagination")

			break
		}

		path = next.Path
		params = next.Query()
	}

	a.logger.Debug().
		Str("source", a.source.Code).
		Int("devices", len(updates)).
		Msg("Fetched device listing from WSM")

	return updates, nil
}

func (a *Adapter) transform(d *device) (*models.DeviceUpdate, bool) {
	if d.ID == 0 {
		a.logger.Warn().
			Str("source", a.source.Code).
			Str("name", d.Name).
			Msg("Skipping device record without an id")

		return nil, false
	}

	attrs := map[string]string{
		"vendor": "sennheiser",
	}

	if d.Name != "" {
		attrs["name"] = d.Name
	}

	if d.DeviceType.Model != "" {
		attrs["model"] = d.DeviceType.Model
	}

	if d.FirmwareVersion != "" {
		attrs["firmware_version"] = d.FirmwareVersion
	}

	update := &models.DeviceUpdate{
		SourceCode:     a.source.Code,
		SourceDeviceID: strconv.Itoa(d.ID),
		SerialNumber:   d.Serial,
		NetworkAddress: d.IPv4.Address,
		Attributes:     attrs,
		Timestamp:      time.Now(),
	}

	if d.Battery != nil {
		update.BatteryLevel = models.IntPtr(d.Battery.Percent)
		attrs["charging"] = strconv.FormatBool(d.Battery.Charging)
	}

	if d.RF != nil {
		update.SignalQuality = models.IntPtr(d.RF.QualityPercent)

		if d.RF.Band != "" {
			attrs["rf_band"] = d.RF.Band
		}
	}

	if raw, err := json.Marshal(d); err == nil {
		update.RawPayload = raw
	}

	return update, true
}

// HealthCheck maps gateway self-health into the standard envelope.
func (a *Adapter) HealthCheck(ctx context.Context) models.HealthResult {
	payload, err := a.client.Get(ctx, statusPath, nil)
	if err != nil {
		return a.client.HealthCheck(ctx, statusPath)
	}

	result := models.HealthResult{
		Status:    models.HealthHealthy,
		Timestamp: time.Now(),
		Details:   map[string]string{"vendor": "sennheiser"},
	}

	var status systemStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return result
	}

	result.Details["receivers_total"] = strconv.Itoa(status.ReceiversTotal)
	result.Details["receivers_offline"] = strconv.Itoa(status.ReceiversOffline)

	switch {
	case !status.GatewayOnline:
		result.Status = models.HealthUnhealthy
	case status.ReceiversTotal > 0 && status.ReceiversOffline*2 > status.ReceiversTotal:
		result.Status = models.HealthDegraded
	}

	return result
}
