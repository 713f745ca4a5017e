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

package config

import (
	"context"
	"sync"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

// FileSourceProvider re-reads the config file at each cycle start so
// source edits take effect without a restart. A read or validation failure
// keeps serving the last good source list.
type FileSourceProvider struct {
	path   string
	logger logger.Logger

	mu       sync.Mutex
	lastGood []*models.Source
}

// NewFileSourceProvider creates a provider over the given config path,
// seeded with the sources already loaded at startup.
func NewFileSourceProvider(path string, seed []*models.Source, log logger.Logger) *FileSourceProvider {
	return &FileSourceProvider{
		path:     path,
		logger:   log.WithComponent("config"),
		lastGood: seed,
	}
}

// ActiveSources returns the currently configured sources.
func (p *FileSourceProvider) ActiveSources(context.Context) ([]*models.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cfg Config

	if err := LoadAndValidate(p.path, &cfg); err != nil {
		p.logger.Warn().Err(err).
			Str("path", p.path).
			Msg("Config reload failed, keeping previous source list")

		return p.lastGood, nil
	}

	p.lastGood = cfg.Sources

	return cfg.Sources, nil
}

// StaticSourceProvider serves a fixed source list. Used in tests and
// one-shot runs.
type StaticSourceProvider struct {
	Sources []*models.Source
}

func (p *StaticSourceProvider) ActiveSources(context.Context) ([]*models.Source, error) {
	return p.Sources, nil
}
