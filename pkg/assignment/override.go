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

package assignment

import (
	"context"
	"encoding/base64"

	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

// ApplyDashboardParams applies a dashboard reply: fleet-wide aggregation
// parameters plus the legacy three-slot gateway overrides. Unrecognized
// aggregation-function names fall back to AVG with a warning rather
// than failing the sync cycle.
func (p *Policy) ApplyDashboardParams(ctx context.Context, params *models.DashboardParams) {
	function, ok := models.ParseAggregationFunction(params.AggregationFunction)
	if !ok && params.AggregationFunction != "" {
		p.logger.Warn().
			Str("function", params.AggregationFunction).
			Msg("Unknown aggregation function, falling back to AVG")
	}

	p.ApplyAggregationParams(ctx, function, params.WindowSize)

	for slot, selection := range params.SlotGatewaySelection {
		if selection <= 0 {
			continue
		}

		p.applySlotOverride(ctx, slot, selection)
	}
}

// ApplyAggregationParams stores the aggregation parameters and pushes
// them to every gateway when they changed.
func (p *Policy) ApplyAggregationParams(ctx context.Context, function models.AggregationFunction, windowSize int) {
	p.mu.Lock()

	if windowSize <= 0 {
		windowSize = p.windowSize
	}

	changed := function != p.aggFunction || windowSize != p.windowSize
	p.aggFunction = function
	p.windowSize = windowSize
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.Info().
		Int("function", int(function)).
		Int("window_size", windowSize).
		Msg("Updating aggregation params on all gateways")

	update := &models.AggregationParams{Function: function, WindowSize: windowSize}

	for _, gatewayID := range p.dir.GatewayIDs() {
		gw, ok := p.dir.Gateway(gatewayID)
		if !ok {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout)
		err := gw.Client.UpdateAggregationParams(callCtx, update)

		cancel()

		if err != nil {
			p.logger.Warn().Err(err).Str("gw_id", gatewayID).Msg("Failed to push aggregation params to gateway")
		}
	}
}

// applySlotOverride reassigns the device occupying the given ordinal
// slot to the selected gateway. selection is 1-based. Out-of-range
// selections are remembered but applied only once enough gateways have
// registered.
func (p *Policy) applySlotOverride(ctx context.Context, slot, selection int) {
	p.mu.Lock()
	p.slotSelection[slot] = selection
	p.mu.Unlock()

	target, ok := p.dir.GatewayAt(selection - 1)
	if !ok {
		p.logger.Warn().
			Int("slot", slot).
			Int("selection", selection).
			Msg("Gateway selection out of range, deferring")

		return
	}

	euis := p.dir.DeviceEUIs()
	if slot >= len(euis) {
		return
	}

	rec, ok := p.dir.Device(euis[slot])
	if !ok || rec.GatewayID == target.ID {
		return
	}

	p.logger.Info().
		Str("dev_eui", rec.DevEUI).
		Str("old_gw_id", rec.GatewayID).
		Str("new_gw_id", target.ID).
		Msg("Dashboard override moving device to gateway")

	// The device must re-run the edge join against the new gateway
	// because its session keys bind it to the old one.
	p.sendRejoin(ctx, rec.DevID, rec.DevEUI)

	if rec.GatewayID != "" {
		p.relinquishDevice(ctx, rec.GatewayID, rec.DevEUI, rec.DevAddr)
	}

	if err := p.dir.SetAssignedGateway(rec.DevEUI, target.ID); err != nil {
		p.logger.Warn().Err(err).Str("dev_eui", rec.DevEUI).Msg("Failed to reassign device")
		return
	}

	p.BroadcastDevice(ctx, rec.DevEUI)
}

// sendRejoin schedules the rejoin command downlink for a device.
func (p *Policy) sendRejoin(ctx context.Context, devID, devEUI string) {
	envelope := &models.DownlinkEnvelope{
		Downlinks: []models.Downlink{{
			FPort:      models.PortEdgeCommand,
			FRMPayload: base64.StdEncoding.EncodeToString([]byte(models.RejoinCommand)),
			Priority:   models.DownlinkPriorityHighest,
		}},
	}

	if err := p.downlinks.SendDownlink(ctx, devID, envelope); err != nil {
		p.logger.Warn().Err(err).Str("dev_eui", devEUI).Msg("Failed to schedule rejoin downlink")
	}
}

// relinquishDevice asks the old gateway to drop a device and folds any
// aggregated-but-unflushed data it returns back into the edge path.
func (p *Policy) relinquishDevice(ctx context.Context, gatewayID, devEUI, devAddr string) {
	gw, ok := p.dir.Gateway(gatewayID)
	if !ok {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout)
	defer cancel()

	resp, err := gw.Client.RemoveDevice(callCtx, &models.DeviceRemoval{DevEUI: devEUI, DevAddr: devAddr})
	if err != nil {
		p.logger.Warn().Err(err).Str("gw_id", gatewayID).Str("dev_eui", devEUI).
			Msg("Failed to remove device from gateway")

		return
	}

	if resp.StatusCode != 0 || resp.AggregatedDataCount <= 0 {
		return
	}

	p.mu.Lock()
	sink := p.edgeSink
	p.mu.Unlock()

	if sink != nil {
		sink.HandleRelinquishedData(ctx, gatewayID, devEUI, devAddr, resp.AggregatedData)
	}
}
