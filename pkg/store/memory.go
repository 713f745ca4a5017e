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

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/stagecrew/micmon/pkg/models"
)

// MemoryStore is an in-memory DeviceStore. Devices and the identity index
// live in concurrent maps; conflicts and health are low-volume and sit
// behind a plain mutex.
type MemoryStore struct {
	devices  cmap.ConcurrentMap[string, *models.Device]
	identity cmap.ConcurrentMap[string, string]

	mu        sync.Mutex
	conflicts []*models.DuplicateConflict
	health    map[string]models.HealthResult
}

var _ DeviceStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  cmap.New[*models.Device](),
		identity: cmap.New[string](),
		health:   make(map[string]models.HealthResult),
	}
}

func identityKey(sourceCode, sourceDeviceID string) string {
	return sourceCode + "\x00" + sourceDeviceID
}

// GetOrCreateDevice resolves the update's identity to a canonical record,
// minting a DISCOVERED record on first sight.
func (s *MemoryStore) GetOrCreateDevice(_ context.Context, update *models.DeviceUpdate) (*models.Device, bool, error) {
	key := identityKey(update.SourceCode, update.SourceDeviceID)

	if canonicalID, ok := s.identity.Get(key); ok {
		if device, ok := s.devices.Get(canonicalID); ok {
			return device.Clone(), false, nil
		}

		return nil, false, fmt.Errorf("%w: %s (dangling identity index)", ErrDeviceNotFound, canonicalID)
	}

	now := time.Now()
	device := &models.Device{
		CanonicalID:    uuid.New().String(),
		SourceCode:     update.SourceCode,
		SourceDeviceID: update.SourceDeviceID,
		SerialNumber:   update.SerialNumber,
		NetworkAddress: update.NetworkAddress,
		LifecycleState: models.StateDiscovered,
		FirstSeenAt:    now,
		UpdatedAt:      now,
	}

	// SetIfAbsent arbitrates concurrent first sightings of the same identity.
	if !s.identity.SetIfAbsent(key, device.CanonicalID) {
		canonicalID, _ := s.identity.Get(key)
		if existing, ok := s.devices.Get(canonicalID); ok {
			return existing.Clone(), false, nil
		}

		return nil, false, fmt.Errorf("%w: %s (dangling identity index)", ErrDeviceNotFound, canonicalID)
	}

	s.devices.Set(device.CanonicalID, device.Clone())

	return device, true, nil
}

// LoadDevice fetches one canonical record.
func (s *MemoryStore) LoadDevice(_ context.Context, canonicalID string) (*models.Device, error) {
	device, ok := s.devices.Get(canonicalID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, canonicalID)
	}

	return device.Clone(), nil
}

// SaveDevice persists the full record, replacing any previous version.
func (s *MemoryStore) SaveDevice(_ context.Context, device *models.Device) error {
	if device.CanonicalID == "" {
		return fmt.Errorf("%w: empty canonical id", ErrDeviceNotFound)
	}

	device.UpdatedAt = time.Now()
	s.devices.Set(device.CanonicalID, device.Clone())
	s.identity.Set(identityKey(device.SourceCode, device.SourceDeviceID), device.CanonicalID)

	return nil
}

// ListDevices returns a snapshot of every canonical record.
func (s *MemoryStore) ListDevices(_ context.Context) ([]*models.Device, error) {
	devices := make([]*models.Device, 0, s.devices.Count())

	for item := range s.devices.IterBuffered() {
		devices = append(devices, item.Val.Clone())
	}

	return devices, nil
}

// ListStaleDevices returns records last seen before the cutoff.
func (s *MemoryStore) ListStaleDevices(_ context.Context, cutoff time.Time) ([]*models.Device, error) {
	var stale []*models.Device

	for item := range s.devices.IterBuffered() {
		if item.Val.LastSeenAt.Before(cutoff) {
			stale = append(stale, item.Val.Clone())
		}
	}

	return stale, nil
}

// RecordConflict appends a flagged duplicate pair.
func (s *MemoryStore) RecordConflict(_ context.Context, conflict *models.DuplicateConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conflict
	s.conflicts = append(s.conflicts, &c)

	return nil
}

// OpenConflictExists reports whether an unresolved conflict covers the pair
// in either order.
func (s *MemoryStore) OpenConflictExists(_ context.Context, canonicalIDA, canonicalIDB string, reason models.MatchReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conflicts {
		if c.Resolved || c.MatchReason != reason {
			continue
		}

		if (c.CanonicalIDA == canonicalIDA && c.CanonicalIDB == canonicalIDB) ||
			(c.CanonicalIDA == canonicalIDB && c.CanonicalIDB == canonicalIDA) {
			return true, nil
		}
	}

	return false, nil
}

// ListOpenConflicts returns unresolved conflicts.
func (s *MemoryStore) ListOpenConflicts(_ context.Context) ([]*models.DuplicateConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []*models.DuplicateConflict

	for _, c := range s.conflicts {
		if !c.Resolved {
			copied := *c
			open = append(open, &copied)
		}
	}

	return open, nil
}

// SaveSourceHealth records the latest probe result for a source.
func (s *MemoryStore) SaveSourceHealth(_ context.Context, sourceCode string, result models.HealthResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health[sourceCode] = result

	return nil
}

// SourceHealth returns the last recorded probe result for a source.
func (s *MemoryStore) SourceHealth(sourceCode string) (models.HealthResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.health[sourceCode]

	return result, ok
}
