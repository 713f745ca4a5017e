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

package orchestrator

import (
	"sync"
	"time"
)

// Metrics collects reconciliation counters in-process.
type Metrics interface {
	ObserveCycle(duration time.Duration, sources, errors int)
	ObserveSourcePoll(sourceCode string, devices int, err error)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveCycle(time.Duration, int, int) {}

func (NoopMetrics) ObserveSourcePoll(string, int, error) {}

// BasicMetrics keeps running totals, exposed for diagnostics endpoints.
type BasicMetrics struct {
	mu sync.Mutex

	Cycles        int64
	CycleErrors   int64
	LastCycleTime time.Duration
	SourcePolls   map[string]int64
	SourceErrors  map[string]int64
}

// NewBasicMetrics creates an empty counter set.
func NewBasicMetrics() *BasicMetrics {
	return &BasicMetrics{
		SourcePolls:  make(map[string]int64),
		SourceErrors: make(map[string]int64),
	}
}

func (m *BasicMetrics) ObserveCycle(duration time.Duration, _, errors int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Cycles++
	m.CycleErrors += int64(errors)
	m.LastCycleTime = duration
}

func (m *BasicMetrics) ObserveSourcePoll(sourceCode string, _ int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SourcePolls[sourceCode]++

	if err != nil {
		m.SourceErrors[sourceCode]++
	}
}

// Snapshot returns a copy of the counters.
func (m *BasicMetrics) Snapshot() (cycles, cycleErrors int64, lastCycle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Cycles, m.CycleErrors, m.LastCycleTime
}
