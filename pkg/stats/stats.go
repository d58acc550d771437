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

// Package stats maintains the sink's operational counters: per-gateway
// and per-device frame counts, network-server traffic, the sink's own
// receive counters, and the last reported aggregation result.
//
// Counters are monotonically updated by the ingestion dispatcher and
// read by the control-plane sync loop and the handover controller.
package stats

import (
	"sync"

	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

// FrameKind selects which per-device counter RecordDeviceFrame bumps.
type FrameKind int

const (
	FrameKindLegacy FrameKind = iota
	FrameKindEdge
)

// Aggregator owns the counter set. Safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	gateways map[string]*models.GatewayCounters
	devices  map[string]*models.DeviceCounters
	network  models.NetworkCounters
	module   models.ModuleCounters
	// droppedLegacy is reported in flattened stats but nothing
	// increments it: the sink runs no legacy de-duplication stage, and
	// the field exists so the reported counter set stays complete.
	droppedLegacy     int64
	aggregationResult float64
	baseline          *models.SinkStats
}

// NewAggregator creates an aggregator with all counters at zero.
func NewAggregator() *Aggregator {
	return &Aggregator{
		gateways: make(map[string]*models.GatewayCounters),
		devices:  make(map[string]*models.DeviceCounters),
	}
}

// EnsureGateway creates the counter pair for a gateway if absent.
func (a *Aggregator) EnsureGateway(gatewayID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.gateways[gatewayID]; !ok {
		a.gateways[gatewayID] = &models.GatewayCounters{}
	}
}

// EnsureDevice creates the counter set for a device if absent and
// refreshes its LoRaWAN address.
func (a *Aggregator) EnsureDevice(eui, devAddr string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, ok := a.devices[eui]
	if !ok {
		dev = &models.DeviceCounters{}
		a.devices[eui] = dev
	}

	if devAddr != "" {
		dev.DevAddr = devAddr
	}
}

// RecordGatewayRx adds n to a gateway's received-frame counter.
func (a *Aggregator) RecordGatewayRx(gatewayID string, n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gatewayLocked(gatewayID).Rx += n
}

// RecordGatewayTx adds n to a gateway's transmitted-frame counter.
func (a *Aggregator) RecordGatewayTx(gatewayID string, n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gatewayLocked(gatewayID).Tx += n
}

// GatewayRx returns a gateway's received-frame counter.
func (a *Aggregator) GatewayRx(gatewayID string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if gw, ok := a.gateways[gatewayID]; ok {
		return gw.Rx
	}

	return 0
}

// RecordDeviceFrame bumps a device's per-path frame counter.
func (a *Aggregator) RecordDeviceFrame(eui string, kind FrameKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, ok := a.devices[eui]
	if !ok {
		dev = &models.DeviceCounters{}
		a.devices[eui] = dev
	}

	switch kind {
	case FrameKindLegacy:
		dev.LegacyFrames++
	case FrameKindEdge:
		dev.EdgeFrames++
	}
}

// RecordNetworkRx bumps the network-server receive counter.
func (a *Aggregator) RecordNetworkRx() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.network.Rx++
}

// RecordNetworkTx bumps the network-server transmit counter.
func (a *Aggregator) RecordNetworkTx() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.network.Tx++
}

// RecordModuleRx bumps the sink's own receive counter for the given
// delivery path.
func (a *Aggregator) RecordModuleRx(kind FrameKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch kind {
	case FrameKindLegacy:
		a.module.RxLegacy++
	case FrameKindEdge:
		a.module.RxEdge++
	}
}

// RecordAggregationResult stores the latest aggregation result reported
// by the primary device's gateway.
func (a *Aggregator) RecordAggregationResult(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.aggregationResult = value
}

// Snapshot returns a full copy of the counter set.
func (a *Aggregator) Snapshot() models.StatsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := models.StatsSnapshot{
		Gateways:          make(map[string]models.GatewayCounters, len(a.gateways)),
		Devices:           make(map[string]models.DeviceCounters, len(a.devices)),
		Network:           a.network,
		Module:            a.module,
		DroppedLegacy:     a.droppedLegacy,
		AggregationResult: a.aggregationResult,
	}

	for id, gw := range a.gateways {
		snap.Gateways[id] = *gw
	}

	for eui, dev := range a.devices {
		snap.Devices[eui] = *dev
	}

	return snap
}

// Flatten projects the counters onto the legacy two-gateway dashboard
// view. gatewayIDs is the registration order; only the first two slots
// are representable in the control-plane protocol.
func (a *Aggregator) Flatten(gatewayIDs []string) models.SinkStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.flattenLocked(gatewayIDs)
}

// Delta returns the difference between the current counters and the
// baseline stored by the previous Delta call, then replaces the
// baseline. The first call returns the raw counters. Calling Delta is
// therefore not idempotent: an immediate second call reports zeros for
// every counter. The aggregation result is a gauge and passes through
// unchanged.
func (a *Aggregator) Delta(gatewayIDs []string) models.SinkStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.flattenLocked(gatewayIDs)
	out := current

	if prev := a.baseline; prev != nil {
		out.GW1Received -= prev.GW1Received
		out.GW1Transmitted -= prev.GW1Transmitted
		out.GW2Received -= prev.GW2Received
		out.GW2Transmitted -= prev.GW2Transmitted
		out.NSReceived -= prev.NSReceived
		out.NSTransmitted -= prev.NSTransmitted
		out.NSDroppedLegacy -= prev.NSDroppedLegacy
		out.ModuleReceived -= prev.ModuleReceived
		out.ModuleLegacyFrames -= prev.ModuleLegacyFrames
		out.ModuleEdgeFrames -= prev.ModuleEdgeFrames
	}

	a.baseline = &current

	return out
}

func (a *Aggregator) gatewayLocked(gatewayID string) *models.GatewayCounters {
	gw, ok := a.gateways[gatewayID]
	if !ok {
		gw = &models.GatewayCounters{}
		a.gateways[gatewayID] = gw
	}

	return gw
}

func (a *Aggregator) flattenLocked(gatewayIDs []string) models.SinkStats {
	out := models.SinkStats{
		NSReceived:         a.network.Rx,
		NSTransmitted:      a.network.Tx,
		NSDroppedLegacy:    a.droppedLegacy,
		ModuleReceived:     a.module.RxLegacy + a.module.RxEdge,
		ModuleLegacyFrames: a.module.RxLegacy,
		ModuleEdgeFrames:   a.module.RxEdge,
		AggregationResult:  a.aggregationResult,
	}

	if len(gatewayIDs) > 0 {
		if gw, ok := a.gateways[gatewayIDs[0]]; ok {
			out.GW1Received = gw.Rx
			out.GW1Transmitted = gw.Tx
		}
	}

	if len(gatewayIDs) > 1 {
		if gw, ok := a.gateways[gatewayIDs[1]]; ok {
			out.GW2Received = gw.Rx
			out.GW2Transmitted = gw.Tx
		}
	}

	return out
}
