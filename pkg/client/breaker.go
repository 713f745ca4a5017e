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

package client

import (
	"sync"
	"time"

	"github.com/stagecrew/micmon/pkg/logger"
)

// BreakerState represents the current state of a source's circuit breaker.
type BreakerState int

const (
	// BreakerClosed - requests are allowed.
	BreakerClosed BreakerState = iota
	// BreakerOpen - requests are rejected until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen - probing whether the source has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning for one source.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the success count that closes it from half-open.
	SuccessThreshold int
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration
	// ResetInterval clears stale failure counts while closed.
	ResetInterval time.Duration
}

// DefaultBreakerConfig returns sensible defaults for a polled source.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		ResetInterval:    60 * time.Second,
	}
}

// Breaker is a per-source circuit breaker. It keeps a failing source from
// burning its whole rate budget on requests that cannot succeed.
type Breaker struct {
	config    BreakerConfig
	state     BreakerState
	failures  int
	successes int
	lastFail  time.Time
	lastReset time.Time
	mu        sync.Mutex
	logger    logger.Logger
	source    string
}

// NewBreaker creates a circuit breaker for the named source.
func NewBreaker(source string, config BreakerConfig, log logger.Logger) *Breaker {
	return &Breaker{
		config:    config,
		state:     BreakerClosed,
		lastReset: time.Now(),
		logger:    log,
		source:    source,
	}
}

// Allow reports whether a request may proceed, advancing open → half-open
// when the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case BreakerClosed:
		if now.Sub(b.lastReset) >= b.config.ResetInterval {
			b.failures = 0
			b.lastReset = now
		}

		return true
	case BreakerOpen:
		if now.Sub(b.lastFail) >= b.config.Cooldown {
			b.state = BreakerHalfOpen
			b.successes = 0

			b.logger.Info().
				Str("source", b.source).
				Msg("Circuit breaker transitioning to half-open")

			return true
		}

		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// Record feeds a request outcome into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFail = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.state = BreakerOpen

			b.logger.Warn().
				Str("source", b.source).
				Int("failure_count", b.failures).
				Msg("Circuit breaker opened")
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen

		b.logger.Warn().
			Str("source", b.source).
			Msg("Circuit breaker reopened after failed probe")
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.lastReset = time.Now()

			b.logger.Info().
				Str("source", b.source).
				Msg("Circuit breaker closed after recovery")
		}
	case BreakerClosed:
		b.failures = 0
		b.lastReset = time.Now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}
