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

// Package dedup screens the canonical device set for records that probably
// describe the same physical unit. It only ever flags; merging is an
// operator decision.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/stagecrew/micmon/pkg/logger"
	"github.com/stagecrew/micmon/pkg/models"
	"github.com/stagecrew/micmon/pkg/store"
)

// Flag is one duplicate pair detected in a screening pass, annotated with
// the source codes of both records for per-source cycle accounting.
type Flag struct {
	Conflict *models.DuplicateConflict
	Sources  [2]string
}

// Engine detects probable duplicates across the stored device set.
type Engine struct {
	store  store.DeviceStore
	logger logger.Logger
}

// NewEngine creates a screening engine over the given store.
func NewEngine(s store.DeviceStore, log logger.Logger) *Engine {
	return &Engine{
		store:  s,
		logger: log.WithComponent("dedup"),
	}
}

// Screen scans all canonical records and flags probable duplicate pairs.
// A pair already covered by an open conflict for the same reason is not
// flagged again, so repeated cycles stay quiet. Retired records are
// ignored.
func (e *Engine) Screen(ctx context.Context) ([]*Flag, error) {
	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices for screening: %w", err)
	}

	serialWithinSource := make(map[string][]*models.Device)
	serialAcross := make(map[string][]*models.Device)
	addressAcross := make(map[string][]*models.Device)

	for _, d := range devices {
		if d.LifecycleState.Terminal() {
			continue
		}

		if serial := normalizeSerial(d.SerialNumber); serial != "" {
			scoped := d.SourceCode + "\x00" + serial
			serialWithinSource[scoped] = append(serialWithinSource[scoped], d)
			serialAcross[serial] = append(serialAcross[serial], d)
		}

		if addr := normalizeAddress(d.NetworkAddress); addr != "" {
			addressAcross[addr] = append(addressAcross[addr], d)
		}
	}

	var flags []*Flag

	for _, group := range serialWithinSource {
		flags = e.flagGroup(ctx, flags, group, models.MatchSameSourceSerial, sameSource)
	}

	for _, group := range serialAcross {
		flags = e.flagGroup(ctx, flags, group, models.MatchCrossSourceSerial, crossSource)
	}

	for _, group := range addressAcross {
		flags = e.flagGroup(ctx, flags, group, models.MatchCrossSourceAddress, crossSource)
	}

	if len(flags) > 0 {
		e.logger.Info().
			Int("flagged", len(flags)).
			Msg("Duplicate screening flagged conflicts for review")
	}

	return flags, nil
}

type pairScope int

const (
	sameSource pairScope = iota
	crossSource
)

// flagGroup records a conflict for every qualifying unordered pair in the
// group. Pairs that share a (source, source device id) identity are the
// same record seen twice, never a duplicate.
func (e *Engine) flagGroup(ctx context.Context, flags []*Flag, group []*models.Device, reason models.MatchReason, scope pairScope) []*Flag {
	if len(group) < 2 {
		return flags
	}

	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]

			if a.CanonicalID == b.CanonicalID {
				continue
			}

			if scope == sameSource && a.SourceCode != b.SourceCode {
				continue
			}

			if scope == crossSource && a.SourceCode == b.SourceCode {
				continue
			}

			flag, err := e.flagPair(ctx, a, b, reason)
			if err != nil {
				e.logger.Error().Err(err).
					Str("canonical_id_a", a.CanonicalID).
					Str("canonical_id_b", b.CanonicalID).
					Msg("Failed to record duplicate conflict")

				continue
			}

			if flag != nil {
				flags = append(flags, flag)
			}
		}
	}

	return flags
}

func (e *Engine) flagPair(ctx context.Context, a, b *models.Device, reason models.MatchReason) (*Flag, error) {
	exists, err := e.store.OpenConflictExists(ctx, a.CanonicalID, b.CanonicalID, reason)
	if err != nil {
		return nil, err
	}

	if exists {
		return nil, nil
	}

	conflict := &models.DuplicateConflict{
		CanonicalIDA: a.CanonicalID,
		CanonicalIDB: b.CanonicalID,
		MatchReason:  reason,
		DetectedAt:   time.Now(),
	}

	if err := e.store.RecordConflict(ctx, conflict); err != nil {
		return nil, err
	}

	e.logger.Warn().
		Str("canonical_id_a", a.CanonicalID).
		Str("canonical_id_b", b.CanonicalID).
		Str("source_a", a.SourceCode).
		Str("source_b", b.SourceCode).
		Str("reason", string(reason)).
		Msg("Flagged probable duplicate for operator review")

	return &Flag{
		Conflict: conflict,
		Sources:  [2]string{a.SourceCode, b.SourceCode},
	}, nil
}
