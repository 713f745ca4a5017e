package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecrew/micmon/pkg/logger"
)

var errProbe = errors.New("probe failed")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
		ResetInterval:    time.Hour,
	}, logger.NewTestLogger())

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.Record(errProbe)
	}

	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow(), "open breaker must reject requests")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Millisecond,
		ResetInterval:    time.Hour,
	}, logger.NewTestLogger())

	require.True(t, b.Allow())
	b.Record(errProbe)
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	require.True(t, b.Allow(), "cooldown elapsed, breaker should probe")
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.Record(nil)
	require.True(t, b.Allow())
	b.Record(nil)

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Millisecond,
		ResetInterval:    time.Hour,
	}, logger.NewTestLogger())

	b.Record(errProbe)
	time.Sleep(20 * time.Millisecond)

	require.True(t, b.Allow())
	b.Record(errProbe)

	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
		ResetInterval:    time.Hour,
	}, logger.NewTestLogger())

	b.Record(errProbe)
	b.Record(nil)
	b.Record(errProbe)

	assert.Equal(t, BreakerClosed, b.State(), "interleaved success must reset the count")
}
