package models

import (
	"encoding/json"
	"time"
)

// DeviceUpdate is the normalized output of one adapter poll for one device.
// It is consumed within the same reconciliation cycle and never persisted
// as-is.
type DeviceUpdate struct {
	SourceCode     string `json:"source_code"`
	SourceDeviceID string `json:"source_device_id"`
	SerialNumber   string `json:"serial_number,omitempty"`
	NetworkAddress string `json:"network_address,omitempty"`

	// Nil telemetry pointers mean the vendor did not report the value.
	BatteryLevel  *int              `json:"battery_level,omitempty"`
	SignalQuality *int              `json:"signal_quality,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`

	// RawPayload keeps a reference to the vendor record for diagnostics.
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// IntPtr returns a pointer to v. Helper for optional telemetry fields.
func IntPtr(v int) *int {
	return &v
}
