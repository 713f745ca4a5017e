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

// Package lifecycle owns the canonical per-device state machine. All state
// mutations flow through the Manager, which serializes them per device and
// emits exactly one event per committed transition.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/stagecrew/micmon/pkg/events"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
	"github.com/stagecrew/micmon/pkg/store"
)

const (
	defaultFailureThreshold  = 3
	defaultLowBatteryPercent = 20
	defaultLowSignalPercent  = 25
)

// Transition reasons recorded on emitted events.
const (
	ReasonDiscovered       = "discovered"
	ReasonProvisioned      = "provisioned"
	ReasonRecovered        = "health_recovered"
	ReasonTelemetryWarning = "telemetry_warning"
	ReasonHealthFailures   = "consecutive_health_failures"
	ReasonStale            = "stale"
)

// Config tunes the automatic transition policy.
type Config struct {
	// FailureThreshold is the consecutive-miss count at which an
	// ONLINE or DEGRADED device is taken OFFLINE.
	FailureThreshold int `json:"failure_threshold"`

	// LowBatteryPercent and LowSignalPercent mark the warning band:
	// telemetry below either keeps a device in DEGRADED instead of ONLINE.
	LowBatteryPercent int `json:"low_battery_percent"`
	LowSignalPercent  int `json:"low_signal_percent"`
}

func (c *Config) withDefaults() Config {
	cfg := *c

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}

	if cfg.LowBatteryPercent <= 0 {
		cfg.LowBatteryPercent = defaultLowBatteryPercent
	}

	if cfg.LowSignalPercent <= 0 {
		cfg.LowSignalPercent = defaultLowSignalPercent
	}

	return cfg
}

// Manager applies updates and operator requests to canonical devices.
type Manager struct {
	store  store.DeviceStore
	sink   events.Sink
	logger logger.Logger
	cfg    Config

	locks cmap.ConcurrentMap[string, *sync.Mutex]
}

// NewManager creates a lifecycle manager over the given store and sink.
func NewManager(s store.DeviceStore, sink events.Sink, cfg Config, log logger.Logger) *Manager {
	if sink == nil {
		sink = events.NoopSink{}
	}

	return &Manager{
		store:  s,
		sink:   sink,
		logger: log.WithComponent("lifecycle"),
		cfg:    cfg.withDefaults(),
		locks:  cmap.New[*sync.Mutex](),
	}
}

// lockDevice acquires the single-writer lock for a canonical ID and returns
// the release func.
func (m *Manager) lockDevice(canonicalID string) func() {
	mu := m.locks.Upsert(canonicalID, nil, func(exist bool, current, _ *sync.Mutex) *sync.Mutex {
		if exist {
			return current
		}

		return &sync.Mutex{}
	})

	mu.Lock()

	return mu.Unlock
}

// WithDeviceLock runs fn while holding the device's single-writer lock.
// The push-back path uses this so a write to the vendor API cannot
// interleave with a concurrent pull cycle for the same device.
func (m *Manager) WithDeviceLock(canonicalID string, fn func() error) error {
	unlock := m.lockDevice(canonicalID)
	defer unlock()

	return fn()
}

// ApplyUpdate merges one normalized update into the canonical record and
// applies any automatic transition the new telemetry implies. Returns the
// resulting state.
func (m *Manager) ApplyUpdate(ctx context.Context, update *models.DeviceUpdate) (models.LifecycleState, error) {
	device, created, err := m.store.GetOrCreateDevice(ctx, update)
	if err != nil {
		return "", fmt.Errorf("failed to resolve device identity: %w", err)
	}

	unlock := m.lockDevice(device.CanonicalID)
	defer unlock()

	if !created {
		// Reload under the lock; the pre-lock copy may be stale.
		if device, err = m.store.LoadDevice(ctx, device.CanonicalID); err != nil {
			return "", err
		}
	}

	if device.LifecycleState.Terminal() {
		m.logger.Debug().
			Str("canonical_id", device.CanonicalID).
			Msg("Dropping update for retired device")

		return device.LifecycleState, nil
	}

	m.merge(device, update)

	var pending []events.TransitionEvent

	if err := m.autoTransition(device, &pending); err != nil {
		return "", err
	}

	if err := m.store.SaveDevice(ctx, device); err != nil {
		return "", fmt.Errorf("failed to save device: %w", err)
	}

	m.publish(ctx, pending)

	return device.LifecycleState, nil
}

// merge folds the update into the record. Nil telemetry means the source
// did not report a value; the previous reading is kept.
func (m *Manager) merge(device *models.Device, update *models.DeviceUpdate) {
	if update.SerialNumber != "" {
		device.SerialNumber = update.SerialNumber
	}

	if update.NetworkAddress != "" {
		device.NetworkAddress = update.NetworkAddress
	}

	if update.BatteryLevel != nil {
		device.BatteryLevel = models.IntPtr(*update.BatteryLevel)
	}

	if update.SignalQuality != nil {
		device.SignalQuality = models.IntPtr(*update.SignalQuality)
	}

	if len(update.Attributes) > 0 {
		if device.Attributes == nil {
			device.Attributes = make(map[string]string, len(update.Attributes))
		}

		for k, v := range update.Attributes {
			device.Attributes[k] = v
		}
	}

	if update.Timestamp.IsZero() {
		device.LastSeenAt = time.Now()
	} else {
		device.LastSeenAt = update.Timestamp
	}

	device.ConsecutiveHealthFailures = 0
	device.StaleOffline = false
}

// autoTransition moves the device along the automatic paths a fresh update
// allows. MAINTENANCE is never entered or left automatically.
func (m *Manager) autoTransition(device *models.Device, pending *[]events.TransitionEvent) error {
	warning := m.telemetryWarning(device)

	switch device.LifecycleState {
	case models.StateDiscovered:
		if err := m.commit(device, models.StateProvisioning, ReasonDiscovered, pending); err != nil {
			return err
		}

		return m.commitHealthy(device, warning, ReasonProvisioned, pending)

	case models.StateProvisioning:
		return m.commitHealthy(device, warning, ReasonProvisioned, pending)

	case models.StateOffline:
		return m.commitHealthy(device, warning, ReasonRecovered, pending)

	case models.StateOnline:
		if warning {
			return m.commit(device, models.StateDegraded, ReasonTelemetryWarning, pending)
		}

	case models.StateDegraded:
		if !warning {
			return m.commit(device, models.StateOnline, ReasonRecovered, pending)
		}

	case models.StateMaintenance, models.StateRetired:
	}

	return nil
}

// commitHealthy transitions to ONLINE, or DEGRADED when telemetry sits in
// the warning band.
func (m *Manager) commitHealthy(device *models.Device, warning bool, reason string, pending *[]events.TransitionEvent) error {
	if warning {
		return m.commit(device, models.StateDegraded, ReasonTelemetryWarning, pending)
	}

	return m.commit(device, models.StateOnline, reason, pending)
}

func (m *Manager) telemetryWarning(device *models.Device) bool {
	if device.BatteryLevel != nil && *device.BatteryLevel < m.cfg.LowBatteryPercent {
		return true
	}

	if device.SignalQuality != nil && *device.SignalQuality < m.cfg.LowSignalPercent {
		return true
	}

	return false
}

// Transition is the operator API for explicit state changes, including the
// only path into MAINTENANCE. The caller's reason is recorded verbatim.
func (m *Manager) Transition(ctx context.Context, canonicalID string, target models.LifecycleState, reason string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, target)
	}

	unlock := m.lockDevice(canonicalID)
	defer unlock()

	device, err := m.store.LoadDevice(ctx, canonicalID)
	if err != nil {
		return err
	}

	var pending []events.TransitionEvent

	if err := m.commit(device, target, reason, &pending); err != nil {
		return err
	}

	if err := m.store.SaveDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}

	m.publish(ctx, pending)

	return nil
}

// CheckHealth evaluates one device that received no update this cycle:
// counts the miss and takes the device OFFLINE when the failure threshold
// or the staleness window is crossed. Returns the resulting state.
func (m *Manager) CheckHealth(ctx context.Context, canonicalID string, staleThreshold time.Duration) (models.LifecycleState, error) {
	unlock := m.lockDevice(canonicalID)
	defer unlock()

	device, err := m.store.LoadDevice(ctx, canonicalID)
	if err != nil {
		return "", err
	}

	// Retired devices are history; MAINTENANCE devices are expected to be
	// silent and never auto-exit.
	if device.LifecycleState.Terminal() || device.LifecycleState == models.StateMaintenance {
		return device.LifecycleState, nil
	}

	device.ConsecutiveHealthFailures++

	active := device.LifecycleState == models.StateOnline || device.LifecycleState == models.StateDegraded

	var pending []events.TransitionEvent

	switch {
	case active && device.ConsecutiveHealthFailures >= m.cfg.FailureThreshold:
		if err := m.commit(device, models.StateOffline, ReasonHealthFailures, &pending); err != nil {
			return "", err
		}

	case active && m.isStale(device, staleThreshold):
		device.StaleOffline = true

		if err := m.commit(device, models.StateOffline, ReasonStale, &pending); err != nil {
			return "", err
		}
	}

	if err := m.store.SaveDevice(ctx, device); err != nil {
		return "", fmt.Errorf("failed to save device: %w", err)
	}

	m.publish(ctx, pending)

	return device.LifecycleState, nil
}

func (m *Manager) isStale(device *models.Device, threshold time.Duration) bool {
	if threshold <= 0 || device.LastSeenAt.IsZero() || device.StaleOffline {
		return false
	}

	return time.Since(device.LastSeenAt) > threshold
}

// commit is the single mutation point: it validates the transition against
// the table, updates the in-memory record and queues exactly one event.
// Events are published only after the caller has persisted the record.
func (m *Manager) commit(device *models.Device, target models.LifecycleState, reason string, pending *[]events.TransitionEvent) error {
	from := device.LifecycleState

	if from == target {
		return nil
	}

	if !CanTransition(from, target) {
		return &InvalidTransitionError{
			CanonicalID: device.CanonicalID,
			From:        from,
			To:          target,
		}
	}

	device.LifecycleState = target

	m.logger.Info().
		Str("canonical_id", device.CanonicalID).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("Lifecycle transition")

	*pending = append(*pending, events.TransitionEvent{
		CanonicalID:   device.CanonicalID,
		PreviousState: from,
		NewState:      target,
		Reason:        reason,
		Timestamp:     time.Now(),
	})

	return nil
}

// publish delivers queued events. Sink failures are logged, never
// propagated; a lost notification must not roll back a committed change.
func (m *Manager) publish(ctx context.Context, pending []events.TransitionEvent) {
	for _, event := range pending {
		if err := m.sink.PublishTransition(ctx, event); err != nil {
			m.logger.Warn().Err(err).
				Str("canonical_id", event.CanonicalID).
				Msg("Failed to publish transition event")
		}
	}
}
