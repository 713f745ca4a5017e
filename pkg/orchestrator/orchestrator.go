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

// Package orchestrator drives reconciliation cycles: poll every active
// source concurrently, screen for duplicates, apply updates through the
// lifecycle manager and sweep devices that went silent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagecrew/micmon/pkg/adapter"
	"github.com/stagecrew/micmon/pkg/dedup"
	"github.com/stagecrew/micmon/pkg/events"
	"github.com/stagecrew/micmon/pkg/lifecycle"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
	"github.com/stagecrew/micmon/pkg/store"
)

const (
	defaultInterval       = 60 * time.Second
	defaultCycleTimeout   = 45 * time.Second
	defaultStaleThreshold = 5 * time.Minute
)

// SourceProvider supplies the active source list at the start of each
// cycle. The orchestrator treats the result as read-only.
type SourceProvider interface {
	ActiveSources(ctx context.Context) ([]*models.Source, error)
}

// Config tunes cycle scheduling.
type Config struct {
	// Interval between cycle starts.
	Interval models.Duration `json:"interval"`

	// CycleTimeout caps how long a cycle waits for source polls; slow
	// sources are abandoned for the cycle, not awaited indefinitely.
	CycleTimeout models.Duration `json:"cycle_timeout"`

	// StaleThreshold is the silence window after which a device is
	// considered stale.
	StaleThreshold models.Duration `json:"stale_threshold"`

	// MaxConcurrentSources bounds parallel source polls. Zero means
	// unlimited; each source self-throttles through its own rate limiter.
	MaxConcurrentSources int `json:"max_concurrent_sources"`
}

func (c *Config) withDefaults() Config {
	cfg := *c

	if cfg.Interval <= 0 {
		cfg.Interval = models.Duration(defaultInterval)
	}

	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = models.Duration(defaultCycleTimeout)
	}

	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = models.Duration(defaultStaleThreshold)
	}

	return cfg
}

// Orchestrator runs reconciliation cycles on a fixed schedule.
type Orchestrator struct {
	cfg      Config
	provider SourceProvider
	registry adapter.Registry
	store    store.DeviceStore
	dedup    *dedup.Engine
	manager  *lifecycle.Manager
	sink     events.Sink
	metrics  Metrics
	clock    Clock
	logger   logger.Logger

	adapterMu sync.Mutex
	adapters  map[string]adapter.Adapter

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Provider SourceProvider
	Registry adapter.Registry
	Store    store.DeviceStore
	Dedup    *dedup.Engine
	Manager  *lifecycle.Manager
	Sink     events.Sink
	Metrics  Metrics
	Clock    Clock
}

// New creates an orchestrator. Nil Metrics, Clock and Sink fall back to
// no-op implementations.
func New(cfg Config, deps Deps, log logger.Logger) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}

	if deps.Clock == nil {
		deps.Clock = realClock{}
	}

	if deps.Sink == nil {
		deps.Sink = events.NoopSink{}
	}

	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		provider: deps.Provider,
		registry: deps.Registry,
		store:    deps.Store,
		dedup:    deps.Dedup,
		manager:  deps.Manager,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		logger:   log.WithComponent("orchestrator"),
		adapters: make(map[string]adapter.Adapter),
		done:     make(chan struct{}),
	}
}

// Start runs cycles until the context is cancelled or Stop is called. The
// first cycle runs immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	interval := time.Duration(o.cfg.Interval)
	ticker := o.clock.Ticker(interval)

	defer ticker.Stop()

	o.logger.Info().Dur("interval", interval).Msg("Starting reconciliation orchestrator")

	o.wg.Add(1)
	defer o.wg.Done()

	if _, err := o.RunCycle(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Initial reconciliation cycle failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.done:
			return nil
		case <-ticker.Chan():
			if _, err := o.RunCycle(ctx); err != nil {
				o.logger.Error().Err(err).Msg("Reconciliation cycle failed")
			}
		}
	}
}

// Stop signals the run loop to exit and waits for it.
func (o *Orchestrator) Stop(context.Context) error {
	o.closeOnce.Do(func() {
		close(o.done)
	})

	o.wg.Wait()

	return nil
}

// RunCycle executes one reconciliation pass and returns its report. Only a
// failure to read the active source list aborts the cycle; everything else
// is contained in the report.
func (o *Orchestrator) RunCycle(ctx context.Context) (*models.ReconciliationReport, error) {
	start := o.clock.Now()
	report := models.NewReconciliationReport(start)

	sources, err := o.provider.ActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active sources: %w", err)
	}

	// Identity snapshot before the cycle: distinguishes created from
	// updated and feeds the staleness sweep afterwards.
	known, err := o.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot devices: %w", err)
	}

	knownIdentities := make(map[string]*models.Device, len(known))
	for _, d := range known {
		knownIdentities[identityKey(d.SourceCode, d.SourceDeviceID)] = d
	}

	updates := o.pollSources(ctx, sources, report)

	seen := make(map[string]struct{}, len(updates))

	for _, update := range updates {
		key := identityKey(update.SourceCode, update.SourceDeviceID)
		seen[key] = struct{}{}

		stats := report.SourceStats(update.SourceCode)

		if _, err := o.manager.ApplyUpdate(ctx, update); err != nil {
			stats.Failed++
			report.AddError(update.SourceCode, err)

			continue
		}

		if _, existed := knownIdentities[key]; existed {
			stats.Updated++
		} else {
			stats.Created++
		}
	}

	o.screenDuplicates(ctx, report)
	o.sweepSilent(ctx, knownIdentities, seen, report)

	report.Duration = o.clock.Now().Sub(start)

	o.metrics.ObserveCycle(report.Duration, len(sources), len(report.Errors))

	if err := o.sink.PublishReport(ctx, report); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to publish reconciliation report")
	}

	return report, nil
}

// pollSources fans one poll per active source out under the cycle deadline
// and aggregates the normalized updates. A failing source contributes an
// error entry and zero updates; it never affects its peers.
func (o *Orchestrator) pollSources(ctx context.Context, sources []*models.Source, report *models.ReconciliationReport) []*models.DeviceUpdate {
	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.CycleTimeout))
	defer cancel()

	var (
		mu      sync.Mutex
		updates []*models.DeviceUpdate
	)

	g, gctx := errgroup.WithContext(pollCtx)

	if o.cfg.MaxConcurrentSources > 0 {
		g.SetLimit(o.cfg.MaxConcurrentSources)
	}

	for _, source := range sources {
		if !source.Active {
			continue
		}

		g.Go(func() error {
			batch, err := o.pollOne(gctx, source)

			mu.Lock()
			defer mu.Unlock()

			o.metrics.ObserveSourcePoll(source.Code, len(batch), err)

			if err != nil {
				report.AddError(source.Code, err)
				report.SourceStats(source.Code)

				return nil
			}

			report.SourceStats(source.Code).Polled = len(batch)
			updates = append(updates, batch...)

			return nil
		})
	}

	// Goroutines never return errors; failures are contained per source.
	_ = g.Wait()

	return updates
}

func (o *Orchestrator) pollOne(ctx context.Context, source *models.Source) ([]*models.DeviceUpdate, error) {
	a, err := o.adapterFor(source)
	if err != nil {
		return nil, err
	}

	health := a.HealthCheck(ctx)

	if err := o.store.SaveSourceHealth(ctx, source.Code, health); err != nil {
		o.logger.Warn().Err(err).
			Str("source", source.Code).
			Msg("Failed to persist source health")
	}

	updates, err := a.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("source %s poll failed: %w", source.Code, err)
	}

	return updates, nil
}

// adapterFor returns the cached adapter for a source, building it on first
// use. Adapters hold per-source state (rate limiter, auth token) that must
// survive across cycles.
func (o *Orchestrator) adapterFor(source *models.Source) (adapter.Adapter, error) {
	o.adapterMu.Lock()
	defer o.adapterMu.Unlock()

	if a, ok := o.adapters[source.Code]; ok {
		return a, nil
	}

	a, err := o.registry.Build(source, o.logger)
	if err != nil {
		return nil, err
	}

	o.adapters[source.Code] = a

	return a, nil
}

// screenDuplicates runs the dedup pass and books flagged pairs against both
// records' sources.
func (o *Orchestrator) screenDuplicates(ctx context.Context, report *models.ReconciliationReport) {
	flags, err := o.dedup.Screen(ctx)
	if err != nil {
		report.AddError("", err)
		return
	}

	for _, flag := range flags {
		report.SourceStats(flag.Sources[0]).DuplicatesFlagged++

		if flag.Sources[1] != flag.Sources[0] {
			report.SourceStats(flag.Sources[1]).DuplicatesFlagged++
		}
	}
}

// sweepSilent runs the health check over every known device that received
// no update this cycle.
func (o *Orchestrator) sweepSilent(ctx context.Context, known map[string]*models.Device, seen map[string]struct{}, report *models.ReconciliationReport) {
	staleThreshold := time.Duration(o.cfg.StaleThreshold)

	for key, device := range known {
		if _, ok := seen[key]; ok {
			continue
		}

		if device.LifecycleState.Terminal() {
			continue
		}

		state, err := o.manager.CheckHealth(ctx, device.CanonicalID, staleThreshold)
		if err != nil {
			report.AddError(device.SourceCode, err)

			continue
		}

		if state == models.StateOffline && device.LifecycleState != models.StateOffline {
			report.StaleOffline++
		}
	}
}

func identityKey(sourceCode, sourceDeviceID string) string {
	return sourceCode + "\x00" + sourceDeviceID
}

// ErrPushUnsupported indicates the device's source adapter has no write
// path.
var ErrPushUnsupported = errors.New("source does not support push-back")

// PushField writes one field back to the vendor API for the given device,
// on explicit external request. It holds the device's single-writer lock
// for the duration so a concurrent pull cycle cannot interleave.
func (o *Orchestrator) PushField(ctx context.Context, canonicalID, field, value string) error {
	device, err := o.store.LoadDevice(ctx, canonicalID)
	if err != nil {
		return err
	}

	o.adapterMu.Lock()
	a, ok := o.adapters[device.SourceCode]
	o.adapterMu.Unlock()

	if !ok {
		return fmt.Errorf("no adapter active for source %s", device.SourceCode)
	}

	pusher, ok := a.(adapter.FieldPusher)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPushUnsupported, device.SourceCode)
	}

	return o.manager.WithDeviceLock(canonicalID, func() error {
		return pusher.PushField(ctx, device.SourceDeviceID, field, value)
	})
}
