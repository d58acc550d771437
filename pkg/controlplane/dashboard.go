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

// Package controlplane runs the sink's periodic sync loop. In
// dashboard mode statistics stream to the experimenter dashboard and
// its replies feed the assignment policy; in storage mode statistics
// deltas and key-agreement logs are persisted instead. The two modes
// are mutually exclusive.
package controlplane

import (
	"context"
	"time"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

// rpcTimeout bounds every dashboard call. Log and join events run on
// the feed workers, so an unresponsive dashboard must not stall them.
const rpcTimeout = 5 * time.Second

// ParamsApplier consumes the dashboard's reply parameters.
type ParamsApplier interface {
	ApplyDashboardParams(ctx context.Context, params *models.DashboardParams)
}

// DashboardClient is the dashboard RPC surface the loop drives.
type DashboardClient interface {
	PushStatistics(ctx context.Context, report *models.StatisticsReport) (*models.DashboardParams, error)
	PushLog(ctx context.Context, msg *models.LogMessage) error
	PushJoinUpdate(ctx context.Context, update *models.JoinUpdate) error
}

// DashboardLoop streams statistics to the dashboard and applies its
// replies. It also implements the key-agreement event sink, forwarding
// log entries and join updates as they happen.
type DashboardLoop struct {
	client   DashboardClient
	dir      *directory.Store
	stats    *stats.Aggregator
	applier  ParamsApplier
	logger   logger.Logger
	clientID int
	interval time.Duration
	now      func() time.Time
}

// NewDashboardLoop creates the dashboard-mode sync loop.
func NewDashboardLoop(
	client DashboardClient,
	dir *directory.Store,
	agg *stats.Aggregator,
	applier ParamsApplier,
	interval time.Duration,
	log logger.Logger,
) *DashboardLoop {
	return &DashboardLoop{
		client:   client,
		dir:      dir,
		stats:    agg,
		applier:  applier,
		logger:   log,
		interval: interval,
		now:      time.Now,
	}
}

// Run pushes statistics every interval until the context ends. A
// failed push skips the cycle; the dashboard may simply not be up yet.
func (l *DashboardLoop) Run(ctx context.Context) error {
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

func (l *DashboardLoop) sync(ctx context.Context) {
	flat := l.stats.Flatten(l.dir.GatewayIDs())

	report := &models.StatisticsReport{
		ClientID:          l.clientID,
		GW1Received:       flat.GW1Received,
		GW1Transmitted:    flat.GW1Transmitted,
		GW2Received:       flat.GW2Received,
		GW2Transmitted:    flat.GW2Transmitted,
		NSReceived:        flat.NSReceived,
		NSTransmitted:     flat.NSTransmitted,
		ModuleReceived:    flat.ModuleReceived,
		AggregationResult: flat.AggregationResult,
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	params, err := l.client.PushStatistics(callCtx, report)
	if err != nil {
		l.logger.Debug().Err(err).Msg("Statistics push failed, skipping cycle")
		return
	}

	l.applier.ApplyDashboardParams(ctx, params)
}

// LogKeyAgreement forwards a key-agreement log entry to the dashboard.
func (l *DashboardLoop) LogKeyAgreement(ctx context.Context, nodeID int, message string) {
	msg := &models.LogMessage{
		ClientID:    l.clientID,
		NodeID:      nodeID,
		Message:     message,
		ProcessTime: l.now().UnixMilli(),
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	if err := l.client.PushLog(callCtx, msg); err != nil {
		l.logger.Debug().Err(err).Int("node_id", nodeID).Msg("Failed to push key-agreement log")
	}
}

// NotifyJoin tells the dashboard to redraw the topology after a
// completed edge join.
func (l *DashboardLoop) NotifyJoin(ctx context.Context, deviceOrdinal, gatewayOrdinal int) {
	update := &models.JoinUpdate{
		ClientID:       l.clientID,
		DeviceOrdinal:  deviceOrdinal,
		GatewayOrdinal: gatewayOrdinal,
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	if err := l.client.PushJoinUpdate(callCtx, update); err != nil {
		l.logger.Debug().Err(err).Msg("Failed to push join update")
	}
}
