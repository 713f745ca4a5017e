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

// Package config loads and validates the engine's JSON configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/stagecrew/micmon/pkg/lifecycle"
	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
	"github.com/stagecrew/micmon/pkg/orchestrator"
)

var (
	ErrNoSources           = errors.New("at least one source must be configured")
	ErrDuplicateSourceCode = errors.New("duplicate source code")
	ErrSourceIncomplete    = errors.New("source is missing required fields")
)

// Config is the top-level engine configuration.
type Config struct {
	Logger       logger.Config       `json:"logger"`
	Orchestrator orchestrator.Config `json:"orchestrator"`
	Lifecycle    lifecycle.Config    `json:"lifecycle"`

	// Sources lists the vendor management APIs to reconcile against.
	Sources []*models.Source `json:"sources"`

	// DatabaseDSN selects the postgres store when set; empty runs on the
	// in-memory store.
	DatabaseDSN string `json:"database_dsn,omitempty"`

	// NATSURL enables the NATS event sink when set; empty falls back to
	// the log sink.
	NATSURL string `json:"nats_url,omitempty"`
}

// Validator is implemented by config types that check their own contents
// after decoding.
type Validator interface {
	Validate() error
}

// LoadAndValidate reads a JSON config file into v and runs its validation
// when it implements Validator. Unknown fields are rejected so typos fail
// loudly at startup.
func LoadAndValidate(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if validator, ok := v.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	return nil
}

// Validate checks source definitions for completeness and uniqueness.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}

	codes := make(map[string]struct{}, len(c.Sources))

	for _, source := range c.Sources {
		if source.Code == "" || source.Type == "" || source.Endpoint == "" {
			return fmt.Errorf("%w: code=%q type=%q endpoint=%q",
				ErrSourceIncomplete, source.Code, source.Type, source.Endpoint)
		}

		if _, dup := codes[source.Code]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSourceCode, source.Code)
		}

		codes[source.Code] = struct{}{}
	}

	return nil
}
