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

package models

import (
	"time"
)

// LifecycleState is the operational status of a canonical device.
type LifecycleState string

const (
	StateDiscovered   LifecycleState = "DISCOVERED"
	StateProvisioning LifecycleState = "PROVISIONING"
	StateOnline       LifecycleState = "ONLINE"
	StateDegraded     LifecycleState = "DEGRADED"
	StateOffline      LifecycleState = "OFFLINE"
	StateMaintenance  LifecycleState = "MAINTENANCE"
	StateRetired      LifecycleState = "RETIRED"
)

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateDiscovered, StateProvisioning, StateOnline, StateDegraded,
		StateOffline, StateMaintenance, StateRetired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s LifecycleState) Terminal() bool {
	return s == StateRetired
}

// Device is the canonical record for one physical wireless unit. Exactly one
// (SourceCode, SourceDeviceID) pair maps to a CanonicalID; a canonical record
// aggregates data from at most one authoritative source at a time.
type Device struct {
	CanonicalID    string `json:"canonical_id"`
	SourceCode     string `json:"source_code"`
	SourceDeviceID string `json:"source_device_id"`
	SerialNumber   string `json:"serial_number,omitempty"`
	NetworkAddress string `json:"network_address,omitempty"`

	LifecycleState            LifecycleState `json:"lifecycle_state"`
	LastSeenAt                time.Time      `json:"last_seen_at"`
	ConsecutiveHealthFailures int            `json:"consecutive_health_failures"`

	// StaleOffline latches once a staleness sweep has moved the device to
	// OFFLINE so continued staleness does not emit repeat transitions.
	StaleOffline bool `json:"stale_offline,omitempty"`

	// Telemetry. Nil means the source did not report a value; zero is a
	// valid battery reading, absence is not.
	BatteryLevel  *int              `json:"battery_level,omitempty"`
	SignalQuality *int              `json:"signal_quality,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity returns the vendor-scoped identity pair for the device.
func (d *Device) Identity() (sourceCode, sourceDeviceID string) {
	return d.SourceCode, d.SourceDeviceID
}

// Clone returns a deep copy. Stores hand out clones so callers can mutate
// records without racing the store's own copy.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	clone := *d

	if d.BatteryLevel != nil {
		clone.BatteryLevel = IntPtr(*d.BatteryLevel)
	}

	if d.SignalQuality != nil {
		clone.SignalQuality = IntPtr(*d.SignalQuality)
	}

	if d.Attributes != nil {
		clone.Attributes = make(map[string]string, len(d.Attributes))
		for k, v := range d.Attributes {
			clone.Attributes[k] = v
		}
	}

	return &clone
}
