package client

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/stagecrew/micmon/pkg/models"
)

const degradedLatency = 2 * time.Second

// HealthCheck probes the source at the given path and reports
// connectivity-level health in the standardized envelope. Vendor-specific
// health semantics are the adapter's job; this only answers "reachable,
// authenticated, responsive".
func (c *Client) HealthCheck(ctx context.Context, path string) models.HealthResult {
	started := time.Now()
	result := models.HealthResult{Timestamp: started}

	_, err := c.Get(ctx, path, nil)
	latency := time.Since(started)

	result.Details = map[string]string{
		"latency_ms":    strconv.FormatInt(latency.Milliseconds(), 10),
		"breaker_state": c.breaker.State().String(),
	}

	switch {
	case err == nil && latency > degradedLatency:
		result.Status = models.HealthDegraded
	case err == nil:
		result.Status = models.HealthHealthy
	case errors.Is(err, ErrAuthFailed):
		result.Status = models.HealthUnhealthy
		result.Err = err.Error()
	case errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited):
		result.Status = models.HealthDegraded
		result.Err = err.Error()
	default:
		result.Status = models.HealthError
		result.Err = err.Error()
	}

	return result
}
