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

// Package assignment decides which gateway each device is routed
// through. Three mechanisms write the assignment: the block
// round-robin initial distribution at gateway registration, the legacy
// three-slot dashboard override, and telemetry-driven mobility
// reassignment. Every change ends in the same idempotent set-and-
// broadcast step, so concurrent writers interleave safely (last write
// wins).
package assignment

import (
	"context"
	"sync"
	"time"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

const defaultRPCTimeout = 5 * time.Second

// legacySlotCount is the number of devices addressable by the dashboard
// override protocol. A known limitation of the control plane; isolated
// here so a future protocol can lift it without touching other
// components.
const legacySlotCount = 3

// DownlinkSender schedules a downlink frame for a device.
type DownlinkSender interface {
	SendDownlink(ctx context.Context, devID string, envelope *models.DownlinkEnvelope) error
}

// EdgeDataSink absorbs aggregated-but-unflushed data a gateway returns
// when it relinquishes a device, folding it back into the normal edge
// ingestion path.
type EdgeDataSink interface {
	HandleRelinquishedData(ctx context.Context, gatewayID, devEUI, devAddr string, aggregatedData float64)
}

// Config carries the deployment parameters of the policy.
type Config struct {
	SplitFactor  int
	GatewayCount int
	RPCTimeout   time.Duration
}

// Policy implements the gateway-assignment policy.
type Policy struct {
	mu            sync.Mutex
	dir           *directory.Store
	downlinks     DownlinkSender
	edgeSink      EdgeDataSink
	logger        logger.Logger
	splitFactor   int
	gatewayCount  int
	rpcTimeout    time.Duration
	aggFunction   models.AggregationFunction // 0 until first set
	windowSize    int
	slotSelection [legacySlotCount]int // 1-based, 0 = unset
}

// NewPolicy creates the policy. The edge-data sink is attached later
// via SetEdgeDataSink because the ingestion dispatcher both feeds this
// policy and consumes its relinquished data.
func NewPolicy(dir *directory.Store, downlinks DownlinkSender, cfg Config, log logger.Logger) *Policy {
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}

	splitFactor := cfg.SplitFactor
	if splitFactor <= 0 {
		splitFactor = 1
	}

	gatewayCount := cfg.GatewayCount
	if gatewayCount <= 0 {
		gatewayCount = 1
	}

	return &Policy{
		dir:          dir,
		downlinks:    downlinks,
		logger:       log,
		splitFactor:  splitFactor,
		gatewayCount: gatewayCount,
		rpcTimeout:   timeout,
	}
}

// SetEdgeDataSink attaches the consumer for relinquished aggregates.
func (p *Policy) SetEdgeDataSink(sink EdgeDataSink) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.edgeSink = sink
}

// OnGatewayRegistered runs the registration side effects: push the
// current aggregation parameters to the new gateway and distribute any
// unassigned devices across the known gateways.
func (p *Policy) OnGatewayRegistered(ctx context.Context, gatewayID string) {
	gw, ok := p.dir.Gateway(gatewayID)
	if !ok {
		return
	}

	if params := p.currentParams(); params != nil {
		callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout)
		defer cancel()

		if err := gw.Client.UpdateAggregationParams(callCtx, params); err != nil {
			p.logger.Warn().Err(err).Str("gw_id", gatewayID).Msg("Failed to push aggregation params to gateway")
		}
	}

	p.distributeUnassigned()
	p.BroadcastDirectory(ctx)
}

// distributeUnassigned applies the block round-robin distribution:
// device ordinal o maps to gateway index (o / splitFactor) mod
// gatewayCount. Devices whose target index is not yet registered stay
// unassigned until more gateways arrive.
func (p *Policy) distributeUnassigned() {
	known := p.dir.GatewayIDs()
	if len(known) == 0 {
		return
	}

	for ordinal, rec := range p.dir.Devices() {
		if rec.GatewayID != "" {
			continue
		}

		target := (ordinal / p.splitFactor) % p.gatewayCount
		if target >= len(known) {
			continue
		}

		if err := p.dir.SetAssignedGateway(rec.DevEUI, known[target]); err != nil {
			p.logger.Warn().Err(err).Str("dev_eui", rec.DevEUI).Msg("Failed to assign device")
			continue
		}

		p.logger.Info().
			Str("dev_eui", rec.DevEUI).
			Str("gw_id", known[target]).
			Int("ordinal", ordinal).
			Msg("Assigned device to gateway")
	}
}

// SelectJoinGateway picks the gateway for a joining device that is not
// yet assigned: the dashboard's per-slot preference when the device
// occupies one of the first three ordinals, falling back to the
// first-registered gateway when unset or out of range.
func (p *Policy) SelectJoinGateway(devEUI string) (directory.GatewayRecord, bool) {
	if p.dir.GatewayCount() == 0 {
		return directory.GatewayRecord{}, false
	}

	ordinal := p.dir.DeviceOrdinal(devEUI)
	if ordinal < 0 {
		// Not in the directory yet: it will occupy the next ordinal.
		ordinal = len(p.dir.DeviceEUIs())
	}

	index := 0

	if ordinal < legacySlotCount {
		p.mu.Lock()
		selection := p.slotSelection[ordinal]
		p.mu.Unlock()

		if selection > 0 && selection <= p.dir.GatewayCount() {
			index = selection - 1
		}
	}

	return p.dir.GatewayAt(index)
}

// BroadcastDevice pushes one device's record to every known gateway:
// the assigned gateway receives the session keys, everyone else a
// routing-only record, so mis-routed packets can still be redirected.
func (p *Policy) BroadcastDevice(ctx context.Context, devEUI string) {
	rec, ok := p.dir.Device(devEUI)
	if !ok {
		return
	}

	for _, gatewayID := range p.dir.GatewayIDs() {
		gw, ok := p.dir.Gateway(gatewayID)
		if !ok {
			continue
		}

		list := &models.GatewayDeviceList{
			Devices: []models.GatewayDevice{deviceEntry(&rec, gatewayID)},
		}

		p.pushDevices(ctx, &gw, list)
	}
}

// BroadcastDirectory pushes the full device table to every gateway.
func (p *Policy) BroadcastDirectory(ctx context.Context) {
	devices := p.dir.Devices()
	if len(devices) == 0 {
		return
	}

	for _, gatewayID := range p.dir.GatewayIDs() {
		gw, ok := p.dir.Gateway(gatewayID)
		if !ok {
			continue
		}

		list := &models.GatewayDeviceList{Devices: make([]models.GatewayDevice, 0, len(devices))}
		for i := range devices {
			list.Devices = append(list.Devices, deviceEntry(&devices[i], gatewayID))
		}

		p.pushDevices(ctx, &gw, list)
	}
}

func (p *Policy) pushDevices(ctx context.Context, gw *directory.GatewayRecord, list *models.GatewayDeviceList) {
	callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout)
	defer cancel()

	if err := gw.Client.AddDevices(callCtx, list); err != nil {
		p.logger.Warn().Err(err).Str("gw_id", gw.ID).Int("devices", len(list.Devices)).
			Msg("Failed to push devices to gateway")
		return
	}

	p.logger.Debug().Str("gw_id", gw.ID).Int("devices", len(list.Devices)).Msg("Pushed devices to gateway")
}

// deviceEntry builds the push entry for one device as seen by one
// gateway. Keys travel only to the assigned gateway.
func deviceEntry(rec *directory.DeviceRecord, gatewayID string) models.GatewayDevice {
	entry := models.GatewayDevice{
		DevEUI:  rec.DevEUI,
		DevAddr: rec.DevAddr,
	}

	if rec.GatewayID == gatewayID && rec.HasKeys() {
		entry.Assigned = true
		entry.IntKey = append([]byte(nil), rec.IntKey...)
		entry.EncKey = append([]byte(nil), rec.EncKey...)
	}

	return entry
}

// currentParams returns a copy of the aggregation parameters, or nil
// when the dashboard has not set any yet.
func (p *Policy) currentParams() *models.AggregationParams {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aggFunction == 0 {
		return nil
	}

	return &models.AggregationParams{Function: p.aggFunction, WindowSize: p.windowSize}
}
