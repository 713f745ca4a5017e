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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

// PostgresStore is a DeviceStore backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ DeviceStore = (*PostgresStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
    canonical_id        UUID PRIMARY KEY,
    source_code         TEXT NOT NULL,
    source_device_id    TEXT NOT NULL,
    serial_number       TEXT NOT NULL DEFAULT '',
    network_address     TEXT NOT NULL DEFAULT '',
    lifecycle_state     TEXT NOT NULL,
    last_seen_at        TIMESTAMPTZ,
    health_failures     INT NOT NULL DEFAULT 0,
    stale_offline       BOOLEAN NOT NULL DEFAULT FALSE,
    battery_level       INT,
    signal_quality      INT,
    attributes          JSONB,
    first_seen_at       TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    UNIQUE (source_code, source_device_id)
);

CREATE TABLE IF NOT EXISTS duplicate_conflicts (
    id              BIGSERIAL PRIMARY KEY,
    canonical_id_a  UUID NOT NULL,
    canonical_id_b  UUID NOT NULL,
    match_reason    TEXT NOT NULL,
    detected_at     TIMESTAMPTZ NOT NULL,
    resolved        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS source_health (
    source_code TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    checked_at  TIMESTAMPTZ NOT NULL,
    details     JSONB
);
`

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string, log logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool, logger: log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const deviceColumns = `canonical_id, source_code, source_device_id, serial_number,
	network_address, lifecycle_state, last_seen_at, health_failures,
	stale_offline, battery_level, signal_quality, attributes,
	first_seen_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var (
		d          models.Device
		lastSeen   *time.Time
		attributes []byte
	)

	err := row.Scan(&d.CanonicalID, &d.SourceCode, &d.SourceDeviceID,
		&d.SerialNumber, &d.NetworkAddress, &d.LifecycleState, &lastSeen,
		&d.ConsecutiveHealthFailures, &d.StaleOffline, &d.BatteryLevel,
		&d.SignalQuality, &attributes, &d.FirstSeenAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastSeen != nil {
		d.LastSeenAt = *lastSeen
	}

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &d.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes: %w", err)
		}
	}

	return &d, nil
}

// GetOrCreateDevice resolves the update's identity to a canonical record.
// A concurrent first sighting of the same identity loses the insert race
// and reads back the winner's row.
func (s *PostgresStore) GetOrCreateDevice(ctx context.Context, update *models.DeviceUpdate) (*models.Device, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE source_code = $1 AND source_device_id = $2`,
		update.SourceCode, update.SourceDeviceID)

	device, err := scanDevice(row)
	if err == nil {
		return device, false, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to load device: %w", err)
	}

	now := time.Now()
	device = &models.Device{
		CanonicalID:    uuid.New().String(),
		SourceCode:     update.SourceCode,
		SourceDeviceID: update.SourceDeviceID,
		SerialNumber:   update.SerialNumber,
		NetworkAddress: update.NetworkAddress,
		LifecycleState: models.StateDiscovered,
		FirstSeenAt:    now,
		UpdatedAt:      now,
	}

	tag, err := s.pool.Exec(ctx, `INSERT INTO devices
		(canonical_id, source_code, source_device_id, serial_number,
		 network_address, lifecycle_state, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_code, source_device_id) DO NOTHING`,
		device.CanonicalID, device.SourceCode, device.SourceDeviceID,
		device.SerialNumber, device.NetworkAddress, device.LifecycleState,
		device.FirstSeenAt, device.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create device: %w", err)
	}

	if tag.RowsAffected() == 0 {
		row = s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices
			WHERE source_code = $1 AND source_device_id = $2`,
			update.SourceCode, update.SourceDeviceID)

		device, err = scanDevice(row)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load device after insert race: %w", err)
		}

		return device, false, nil
	}

	return device, true, nil
}

// LoadDevice fetches one canonical record.
func (s *PostgresStore) LoadDevice(ctx context.Context, canonicalID string) (*models.Device, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE canonical_id = $1`, canonicalID)

	device, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, canonicalID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	return device, nil
}

// SaveDevice upserts the full record.
func (s *PostgresStore) SaveDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	var attributes []byte

	if device.Attributes != nil {
		var err error
		if attributes, err = json.Marshal(device.Attributes); err != nil {
			return fmt.Errorf("failed to encode attributes: %w", err)
		}
	}

	var lastSeen *time.Time
	if !device.LastSeenAt.IsZero() {
		lastSeen = &device.LastSeenAt
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (canonical_id) DO UPDATE SET
			serial_number = EXCLUDED.serial_number,
			network_address = EXCLUDED.network_address,
			lifecycle_state = EXCLUDED.lifecycle_state,
			last_seen_at = EXCLUDED.last_seen_at,
			health_failures = EXCLUDED.health_failures,
			stale_offline = EXCLUDED.stale_offline,
			battery_level = EXCLUDED.battery_level,
			signal_quality = EXCLUDED.signal_quality,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at`,
		device.CanonicalID, device.SourceCode, device.SourceDeviceID,
		device.SerialNumber, device.NetworkAddress, device.LifecycleState,
		lastSeen, device.ConsecutiveHealthFailures, device.StaleOffline,
		device.BatteryLevel, device.SignalQuality, attributes,
		device.FirstSeenAt, device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}

	return nil
}

func (s *PostgresStore) queryDevices(ctx context.Context, query string, args ...any) ([]*models.Device, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}

		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// ListDevices returns every canonical record.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices`)
}

// ListStaleDevices returns records last seen before the cutoff.
func (s *PostgresStore) ListStaleDevices(ctx context.Context, cutoff time.Time) ([]*models.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE last_seen_at IS NOT NULL AND last_seen_at < $1`, cutoff)
}

// RecordConflict stores a flagged duplicate pair.
func (s *PostgresStore) RecordConflict(ctx context.Context, conflict *models.DuplicateConflict) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO duplicate_conflicts
		(canonical_id_a, canonical_id_b, match_reason, detected_at, resolved)
		VALUES ($1, $2, $3, $4, $5)`,
		conflict.CanonicalIDA, conflict.CanonicalIDB, conflict.MatchReason,
		conflict.DetectedAt, conflict.Resolved)
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}

	return nil
}

// OpenConflictExists reports whether an unresolved conflict covers the pair
// in either order.
func (s *PostgresStore) OpenConflictExists(ctx context.Context, canonicalIDA, canonicalIDB string, reason models.MatchReason) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM duplicate_conflicts
		WHERE NOT resolved AND match_reason = $3
		AND ((canonical_id_a = $1 AND canonical_id_b = $2)
		  OR (canonical_id_a = $2 AND canonical_id_b = $1)))`,
		canonicalIDA, canonicalIDB, reason).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}

	return exists, nil
}

// ListOpenConflicts returns unresolved conflicts.
func (s *PostgresStore) ListOpenConflicts(ctx context.Context) ([]*models.DuplicateConflict, error) {
	rows, err := s.pool.Query(ctx, `SELECT canonical_id_a, canonical_id_b,
		match_reason, detected_at, resolved
		FROM duplicate_conflicts WHERE NOT resolved`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.DuplicateConflict

	for rows.Next() {
		var c models.DuplicateConflict

		if err := rows.Scan(&c.CanonicalIDA, &c.CanonicalIDB, &c.MatchReason,
			&c.DetectedAt, &c.Resolved); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		conflicts = append(conflicts, &c)
	}

	return conflicts, rows.Err()
}

// SaveSourceHealth upserts the latest probe result for a source.
func (s *PostgresStore) SaveSourceHealth(ctx context.Context, sourceCode string, result models.HealthResult) error {
	var details []byte

	if result.Details != nil {
		var err error
		if details, err = json.Marshal(result.Details); err != nil {
			return fmt.Errorf("failed to encode health details: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO source_health
		(source_code, status, checked_at, details)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_code) DO UPDATE SET
			status = EXCLUDED.status,
			checked_at = EXCLUDED.checked_at,
			details = EXCLUDED.details`,
		sourceCode, result.Status, result.Timestamp, details)
	if err != nil {
		return fmt.Errorf("failed to save source health: %w", err)
	}

	return nil
}
