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

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecrew/micmon/pkg/events"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
	"github.com/stagecrew/micmon/pkg/store"
)

type recordingSink struct {
	mu          sync.Mutex
	transitions []events.TransitionEvent
}

func (s *recordingSink) PublishTransition(_ context.Context, event events.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, event)

	return nil
}

func (s *recordingSink) PublishReport(context.Context, *models.ReconciliationReport) error {
	return nil
}

func (s *recordingSink) events() []events.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]events.TransitionEvent, len(s.transitions))
	copy(out, s.transitions)

	return out
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *recordingSink) {
	t.Helper()

	s := store.NewMemoryStore()
	sink := &recordingSink{}
	m := NewManager(s, sink, Config{}, logger.NewTestLogger())

	return m, s, sink
}

func update(sourceCode, sourceDeviceID string, battery, signal int) *models.DeviceUpdate {
	return &models.DeviceUpdate{
		SourceCode:     sourceCode,
		SourceDeviceID: sourceDeviceID,
		BatteryLevel:   models.IntPtr(battery),
		SignalQuality:  models.IntPtr(signal),
		Timestamp:      time.Now(),
	}
}

func TestApplyUpdateAutoProvisionsNewDevice(t *testing.T) {
	m, s, sink := newTestManager(t)
	ctx := context.Background()

	state, err := m.ApplyUpdate(ctx, update("shure-a", "dev-1", 85, 90))
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, state)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 0, devices[0].ConsecutiveHealthFailures)

	got := sink.events()
	require.Len(t, got, 2, "discovery walks DISCOVERED -> PROVISIONING -> ONLINE")
	assert.Equal(t, models.StateProvisioning, got[0].NewState)
	assert.Equal(t, models.StateOnline, got[1].NewState)
}

func TestApplyUpdateLowBatteryLandsInDegraded(t *testing.T) {
	m, _, _ := newTestManager(t)

	state, err := m.ApplyUpdate(context.Background(), update("shure-a", "dev-2", 10, 90))
	require.NoError(t, err)
	assert.Equal(t, models.StateDegraded, state)
}

func TestApplyUpdateOnlineDegradedRoundTrip(t *testing.T) {
	m, _, sink := newTestManager(t)
	ctx := context.Background()

	state, err := m.ApplyUpdate(ctx, update("shure-a", "dev-3", 85, 90))
	require.NoError(t, err)
	require.Equal(t, models.StateOnline, state)

	state, err = m.ApplyUpdate(ctx, update("shure-a", "dev-3", 85, 10))
	require.NoError(t, err)
	assert.Equal(t, models.StateDegraded, state)

	state, err = m.ApplyUpdate(ctx, update("shure-a", "dev-3", 85, 80))
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, state)

	got := sink.events()
	require.Len(t, got, 4)
	assert.Equal(t, ReasonTelemetryWarning, got[2].Reason)
	assert.Equal(t, ReasonRecovered, got[3].Reason)
}

func TestApplyUpdateIsIdempotent(t *testing.T) {
	m, _, sink := newTestManager(t)
	ctx := context.Background()

	u := update("shure-a", "dev-4", 85, 90)

	first, err := m.ApplyUpdate(ctx, u)
	require.NoError(t, err)

	second, err := m.ApplyUpdate(ctx, u)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, sink.events(), 2, "a repeat of the same update emits no extra transitions")
}

func TestApplyUpdateKeepsTelemetryWhenSourceOmitsIt(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-5", 60, 70))
	require.NoError(t, err)

	// The next poll omits battery entirely. Absence is not a reading.
	_, err = m.ApplyUpdate(ctx, &models.DeviceUpdate{
		SourceCode:     "shure-a",
		SourceDeviceID: "dev-5",
		SignalQuality:  models.IntPtr(75),
		Timestamp:      time.Now(),
	})
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.NotNil(t, devices[0].BatteryLevel)
	assert.Equal(t, 60, *devices[0].BatteryLevel)
}

func TestCheckHealthOfflinesOnThirdMiss(t *testing.T) {
	m, s, sink := newTestManager(t)
	ctx := context.Background()

	_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-6", 85, 90))
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	id := devices[0].CanonicalID

	state, err := m.CheckHealth(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, state, "first miss")

	state, err = m.CheckHealth(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, state, "second miss")

	state, err = m.CheckHealth(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StateOffline, state, "third miss crosses the threshold")

	offline := 0
	for _, e := range sink.events() {
		if e.NewState == models.StateOffline {
			offline++
			assert.Equal(t, ReasonHealthFailures, e.Reason)
		}
	}
	assert.Equal(t, 1, offline, "exactly one offline notification")
}

func TestCheckHealthRecoveryAfterOffline(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-7", 85, 90))
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	id := devices[0].CanonicalID

	for i := 0; i < 3; i++ {
		_, err = m.CheckHealth(ctx, id, 0)
		require.NoError(t, err)
	}

	state, err := m.ApplyUpdate(ctx, update("shure-a", "dev-7", 85, 90))
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, state, "a fresh update brings an offline device back")

	// Recovery with weak telemetry lands in DEGRADED instead.
	for i := 0; i < 3; i++ {
		_, err = m.CheckHealth(ctx, id, 0)
		require.NoError(t, err)
	}

	state, err = m.ApplyUpdate(ctx, update("shure-a", "dev-7", 5, 90))
	require.NoError(t, err)
	assert.Equal(t, models.StateDegraded, state)
}

func TestCheckHealthStaleDeviceOfflinesOnce(t *testing.T) {
	m, s, sink := newTestManager(t)
	ctx := context.Background()

	stale := update("shure-a", "dev-8", 85, 90)
	stale.Timestamp = time.Now().Add(-time.Hour)

	_, err := m.ApplyUpdate(ctx, stale)
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	id := devices[0].CanonicalID

	state, err := m.CheckHealth(ctx, id, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StateOffline, state)

	// Continued staleness must not re-emit.
	before := len(sink.events())

	state, err = m.CheckHealth(ctx, id, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StateOffline, state)
	assert.Len(t, sink.events(), before)

	loaded, err := s.LoadDevice(ctx, id)
	require.NoError(t, err)
	assert.True(t, loaded.StaleOffline)
}

func TestCheckHealthLeavesMaintenanceAlone(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-9", 85, 90))
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	id := devices[0].CanonicalID

	require.NoError(t, m.Transition(ctx, id, models.StateMaintenance, "firmware upgrade"))

	for i := 0; i < 5; i++ {
		state, err := m.CheckHealth(ctx, id, time.Nanosecond)
		require.NoError(t, err)
		assert.Equal(t, models.StateMaintenance, state)
	}

	// An incoming update refreshes telemetry but never auto-exits
	// MAINTENANCE.
	state, err := m.ApplyUpdate(ctx, update("shure-a", "dev-9", 85, 90))
	require.NoError(t, err)
	assert.Equal(t, models.StateMaintenance, state)
}

func TestTransitionRejectsIllegalChange(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-10", 85, 90))
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	id := devices[0].CanonicalID

	err = m.Transition(ctx, id, models.StateProvisioning, "nope")
	require.Error(t, err)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StateOnline, invalid.From)
	assert.Equal(t, models.StateProvisioning, invalid.To)

	loaded, err := s.LoadDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, loaded.LifecycleState, "state unchanged after rejection")
}

func TestRetirementIsTerminal(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-11", 85, 90))
	require.NoError(t, err)

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	id := devices[0].CanonicalID

	for i := 0; i < 3; i++ {
		_, err = m.CheckHealth(ctx, id, 0)
		require.NoError(t, err)
	}

	require.NoError(t, m.Transition(ctx, id, models.StateRetired, "decommissioned"))

	err = m.Transition(ctx, id, models.StateOnline, "resurrect")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	// Updates for a retired device are dropped without effect.
	state, err := m.ApplyUpdate(ctx, update("shure-a", "dev-11", 85, 90))
	require.NoError(t, err)
	assert.Equal(t, models.StateRetired, state)
}

func TestTransitionUnknownState(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.Transition(context.Background(), "any", models.LifecycleState("SLEEPING"), "r")
	require.ErrorIs(t, err, ErrUnknownState)
}

func TestConcurrentUpdatesSameDevice(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	const workers = 8

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := m.ApplyUpdate(ctx, update("shure-a", "dev-12", 85, 90))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1, "concurrent first sightings resolve to one record")
	assert.Equal(t, models.StateOnline, devices[0].LifecycleState)
}
