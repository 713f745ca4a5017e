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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stagecrew/micmon/pkg/adapter"
	"github.com/stagecrew/micmon/pkg/config"
	"github.com/stagecrew/micmon/pkg/dedup"
	"github.com/stagecrew/micmon/pkg/events"
	"github.com/stagecrew/micmon/pkg/lifecycle"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/orchestrator"
	"github.com/stagecrew/micmon/pkg/store"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/micmon/micmon.json", "Path to micmon config file")
	flag.Parse()

	var cfg config.Config

	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	mainLogger, err := logger.New(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deviceStore, cleanupStore, err := buildStore(ctx, &cfg, mainLogger)
	if err != nil {
		return err
	}
	defer cleanupStore()

	sink, cleanupSink, err := buildSink(&cfg, mainLogger)
	if err != nil {
		return err
	}
	defer cleanupSink()

	manager := lifecycle.NewManager(deviceStore, sink, cfg.Lifecycle, mainLogger)
	engine := dedup.NewEngine(deviceStore, mainLogger)
	provider := config.NewFileSourceProvider(*configPath, cfg.Sources, mainLogger)

	orch := orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Provider: provider,
		Registry: adapter.DefaultRegistry(),
		Store:    deviceStore,
		Dedup:    engine,
		Manager:  manager,
		Sink:     sink,
		Metrics:  orchestrator.NewBasicMetrics(),
	}, mainLogger)

	errCh := make(chan error, 1)

	go func() {
		errCh <- orch.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		mainLogger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("orchestrator stopped: %w", err)
		}
	}

	return orch.Stop(context.Background())
}

func buildStore(ctx context.Context, cfg *config.Config, log logger.Logger) (store.DeviceStore, func(), error) {
	if cfg.DatabaseDSN == "" {
		log.Info().Msg("No database configured, using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseDSN, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open device store: %w", err)
	}

	return pg, pg.Close, nil
}

func buildSink(cfg *config.Config, log logger.Logger) (events.Sink, func(), error) {
	if cfg.NATSURL == "" {
		return events.NewLogSink(log), func() {}, nil
	}

	nats, err := events.NewNATSSink(cfg.NATSURL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect event sink: %w", err)
	}

	return nats, nats.Close, nil
}
