package models

// HealthStatus is the standardized source health classification.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthError     HealthStatus = "error"
)

// Source is one configured external device-management API.
type Source struct {
	Code        string            `json:"code"`
	Type        string            `json:"type"` // "shure", "sennheiser", ...
	Endpoint    string            `json:"endpoint"`
	Credentials map[string]string `json:"credentials"`
	Active      bool              `json:"active"`

	// Rate limiting for the source's client. Zero values fall back to
	// client defaults.
	RateLimitPerSecond float64  `json:"rate_limit_per_second,omitempty"`
	Burst              int      `json:"burst,omitempty"`
	MaxWait            Duration `json:"max_wait,omitempty"`

	RequestTimeout Duration `json:"request_timeout,omitempty"`

	// HealthStatus is bookkeeping written back by the orchestrator after
	// each cycle's health check; it is never read as configuration.
	HealthStatus HealthStatus `json:"health_status,omitempty"`
}
