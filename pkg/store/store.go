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

// Package store persists canonical device records, duplicate conflicts and
// per-source health. The in-memory implementation backs tests and
// single-node deployments; the postgres implementation backs everything
// else.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stagecrew/micmon/pkg/models"
)

var (
	// ErrDeviceNotFound indicates a lookup for a canonical ID the store
	// has never seen.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrStoreClosed indicates an operation against a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// DeviceStore is the persistence boundary for the reconciliation engine.
type DeviceStore interface {
	// GetOrCreateDevice resolves an update's (source, source device id)
	// identity to a canonical record, minting one in DISCOVERED state on
	// first sight. The second return reports whether a record was created.
	GetOrCreateDevice(ctx context.Context, update *models.DeviceUpdate) (*models.Device, bool, error)

	// LoadDevice fetches one canonical record.
	LoadDevice(ctx context.Context, canonicalID string) (*models.Device, error)

	// SaveDevice persists the full canonical record.
	SaveDevice(ctx context.Context, device *models.Device) error

	// ListDevices returns every canonical record.
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// ListStaleDevices returns records last seen before the cutoff.
	ListStaleDevices(ctx context.Context, cutoff time.Time) ([]*models.Device, error)

	// RecordConflict stores a flagged duplicate pair for operator review.
	RecordConflict(ctx context.Context, conflict *models.DuplicateConflict) error

	// OpenConflictExists reports whether an unresolved conflict already
	// covers the pair, in either order, for the given reason.
	OpenConflictExists(ctx context.Context, canonicalIDA, canonicalIDB string, reason models.MatchReason) (bool, error)

	// ListOpenConflicts returns all unresolved conflicts.
	ListOpenConflicts(ctx context.Context) ([]*models.DuplicateConflict, error)

	// SaveSourceHealth records the latest health probe result for a source.
	SaveSourceHealth(ctx context.Context, sourceCode string, result models.HealthResult) error
}
