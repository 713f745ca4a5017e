package models

import "time"

// HealthResult is the standardized health envelope reported for a source
// regardless of vendor wire format. Adapters map vendor-specific health
// semantics into it; the HTTP client itself only reports connectivity-level
// health.
type HealthResult struct {
	Status    HealthStatus      `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
	Err       string            `json:"error,omitempty"`
}

// Healthy reports whether the result indicates a usable source.
func (h HealthResult) Healthy() bool {
	return h.Status == HealthHealthy || h.Status == HealthDegraded
}
