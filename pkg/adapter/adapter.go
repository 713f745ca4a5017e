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

// Package adapter defines the per-vendor translation layer between native
// management-API payloads and canonical device updates. Vendor field names
// never leak past this boundary.
package adapter

import (
	"context"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

// Adapter normalizes one source's device listing into canonical updates.
type Adapter interface {
	// SourceCode identifies the configured source this adapter serves.
	SourceCode() string

	// ListDevices fetches and normalizes the source's full device listing.
	// A malformed single record is skipped, not fatal; a listing-level
	// failure propagates and the orchestrator treats the source as zero
	// updates for the cycle.
	ListDevices(ctx context.Context) ([]*models.DeviceUpdate, error)

	// HealthCheck maps the vendor's health semantics into the standard
	// envelope.
	HealthCheck(ctx context.Context) models.HealthResult
}

// FieldPusher is implemented by adapters whose vendor API accepts writes.
// PushField is only invoked on explicit external request, with the
// per-device lock held by the caller.
type FieldPusher interface {
	PushField(ctx context.Context, sourceDeviceID, field, value string) error
}

// Factory builds an adapter for a configured source.
type Factory func(source *models.Source, log logger.Logger) (Adapter, error)
