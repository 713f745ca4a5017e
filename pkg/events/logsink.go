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

package events

import (
	"context"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

// LogSink writes transitions and reports to the structured log. It is the
// default sink and doubles as the audit trail for single-node deployments.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink writing to the given logger.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("events")}
}

func (s *LogSink) PublishTransition(_ context.Context, event TransitionEvent) error {
	s.logger.Info().
		Str("canonical_id", event.CanonicalID).
		Str("previous_state", string(event.PreviousState)).
		Str("new_state", string(event.NewState)).
		Str("reason", event.Reason).
		Time("timestamp", event.Timestamp).
		Msg("Device lifecycle transition")

	return nil
}

func (s *LogSink) PublishReport(_ context.Context, report *models.ReconciliationReport) error {
	totalPolled := 0
	totalFailed := 0

	for _, stats := range report.Sources {
		totalPolled += stats.Polled
		totalFailed += stats.Failed
	}

	s.logger.Info().
		Time("started_at", report.StartedAt).
		Dur("duration", report.Duration).
		Int("sources", len(report.Sources)).
		Int("devices_polled", totalPolled).
		Int("devices_failed", totalFailed).
		Int("stale_offline", report.StaleOffline).
		Int("errors", len(report.Errors)).
		Msg("Reconciliation cycle complete")

	return nil
}
