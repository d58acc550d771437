/*
 * Copyright 2025 Edge2LoRa Project.
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

package controlplane

import (
	"context"
	"time"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

// StatsStore persists the storage-mode control-plane documents.
type StatsStore interface {
	PersistStats(ctx context.Context, doc *models.StatsDocument) error
	PersistKeyAgreementLog(ctx context.Context, doc *models.KeyAgreementLogDocument) error
}

// StoreLoop is the storage-mode sync loop: every interval it persists
// the statistics delta since the previous cycle. Key-agreement events
// are written as they happen.
type StoreLoop struct {
	store    StatsStore
	dir      *directory.Store
	stats    *stats.Aggregator
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
}

// NewStoreLoop creates the storage-mode sync loop.
func NewStoreLoop(
	store StatsStore,
	dir *directory.Store,
	agg *stats.Aggregator,
	interval time.Duration,
	log logger.Logger,
) *StoreLoop {
	return &StoreLoop{
		store:    store,
		dir:      dir,
		stats:    agg,
		logger:   log,
		interval: interval,
		now:      time.Now,
	}
}

// Run persists one statistics delta per interval until the context
// ends.
func (l *StoreLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.sync(ctx)
		}
	}
}

func (l *StoreLoop) sync(ctx context.Context) {
	delta := l.stats.Delta(l.dir.GatewayIDs())

	doc := &models.StatsDocument{
		ID:        l.timestamp(),
		Type:      models.DocTypeStats,
		SinkStats: delta,
	}

	if err := l.store.PersistStats(ctx, doc); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist statistics delta")
	}
}

func (l *StoreLoop) timestamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

// LogKeyAgreement persists a key-agreement log entry.
func (l *StoreLoop) LogKeyAgreement(ctx context.Context, nodeID int, message string) {
	doc := &models.KeyAgreementLogDocument{
		ID:          l.timestamp(),
		Type:        models.DocTypeLog,
		NodeID:      nodeID,
		Message:     message,
		ProcessTime: l.now().UnixMilli(),
	}

	if err := l.store.PersistKeyAgreementLog(ctx, doc); err != nil {
		l.logger.Warn().Err(err).Int("node_id", nodeID).Msg("Failed to persist key-agreement log")
	}
}

// NotifyJoin has no storage-mode consumer; joins are visible in the
// key-agreement log trail.
func (l *StoreLoop) NotifyJoin(_ context.Context, deviceOrdinal, gatewayOrdinal int) {
	l.logger.Debug().
		Int("ed_id", deviceOrdinal).
		Int("gw_id", gatewayOrdinal).
		Msg("Edge join recorded")
}
