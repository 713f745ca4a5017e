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

// Package events carries committed lifecycle transitions and cycle reports
// to downstream consumers. Publishing is best-effort: a sink failure is
// logged by the caller and never rolls back the state change it describes.
package events

import (
	"context"
	"time"

	"github.com/stagecrew/micmon/pkg/models"
)

// TransitionEvent describes one committed lifecycle transition.
type TransitionEvent struct {
	CanonicalID   string                `json:"canonical_id"`
	PreviousState models.LifecycleState `json:"previous_state"`
	NewState      models.LifecycleState `json:"new_state"`
	Reason        string                `json:"reason"`
	Timestamp     time.Time             `json:"timestamp"`
}

// Sink receives committed transitions and completed cycle reports.
type Sink interface {
	PublishTransition(ctx context.Context, event TransitionEvent) error
	PublishReport(ctx context.Context, report *models.ReconciliationReport) error
}

// NoopSink discards everything. Used in tests and when no sink is
// configured.
type NoopSink struct{}

func (NoopSink) PublishTransition(context.Context, TransitionEvent) error { return nil }

func (NoopSink) PublishReport(context.Context, *models.ReconciliationReport) error { return nil }
