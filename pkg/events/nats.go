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
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
)

const (
	subjectTransitions = "micmon.events.transitions"
	subjectReports     = "micmon.events.reports"

	natsConnectTimeout = 10 * time.Second
)

// NATSSink publishes transitions and reports as JSON messages on NATS
// subjects for downstream consumers (dashboards, alerting, audit).
type NATSSink struct {
	conn   *nats.Conn
	logger logger.Logger
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url string, log logger.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(natsConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSSink{
		conn:   conn,
		logger: log.WithComponent("events"),
	}, nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
}

func (s *NATSSink) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

func (s *NATSSink) PublishTransition(_ context.Context, event TransitionEvent) error {
	return s.publish(subjectTransitions, event)
}

func (s *NATSSink) PublishReport(_ context.Context, report *models.ReconciliationReport) error {
	return s.publish(subjectReports, report)
}
