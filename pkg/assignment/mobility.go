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

	"github.com/Edge2LoRa/e2l-as/pkg/models"
)

// ApplyMobility reassigns devices based on the per-packet gateway
// attributions of one aggregation batch. For each device it builds a
// histogram of which gateway processed its packets and moves the device
// to the first gateway, in registration order, whose share reaches
// 1/gatewayCount of the batch.
//
// Mobility moves routing only. The session keys are untouched and no
// rejoin is triggered, since every gateway already holds a routing
// record for the device.
func (p *Policy) ApplyMobility(ctx context.Context, attributions []models.PacketAttribution) {
	if len(attributions) == 0 {
		return
	}

	type histogram struct {
		total  int
		counts map[string]int
	}

	perDevice := make(map[string]*histogram)

	for _, attr := range attributions {
		h, ok := perDevice[attr.DevAddr]
		if !ok {
			h = &histogram{counts: make(map[string]int)}
			perDevice[attr.DevAddr] = h
		}

		h.total++
		h.counts[attr.GatewayID]++
	}

	known := p.dir.GatewayIDs()

	for devAddr, h := range perDevice {
		candidate := ""

		for _, gatewayID := range known {
			if h.counts[gatewayID]*p.gatewayCount >= h.total {
				candidate = gatewayID
				break
			}
		}

		if candidate == "" {
			continue
		}

		rec, ok := p.dir.DeviceByAddr(devAddr)
		if !ok || rec.GatewayID == candidate {
			continue
		}

		p.logger.Info().
			Str("dev_addr", devAddr).
			Str("old_gw_id", rec.GatewayID).
			Str("new_gw_id", candidate).
			Int("packets", h.counts[candidate]).
			Int("total", h.total).
			Msg("Mobility moving device to gateway")

		if err := p.dir.SetAssignedGateway(rec.DevEUI, candidate); err != nil {
			p.logger.Warn().Err(err).Str("dev_eui", rec.DevEUI).Msg("Failed to reassign device")
			continue
		}

		p.BroadcastDevice(ctx, rec.DevEUI)
	}
}
