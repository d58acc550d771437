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

package models

// GatewayCounters tracks frames seen by one gateway.
type GatewayCounters struct {
	Rx int64 `json:"rx"`
	Tx int64 `json:"tx"`
}

// DeviceCounters tracks frames received from one device, split by
// delivery path.
type DeviceCounters struct {
	DevAddr      string `json:"dev_addr"`
	LegacyFrames int64  `json:"legacy_frames"`
	EdgeFrames   int64  `json:"edge_frames"`
}

// NetworkCounters tracks frames exchanged with the network server.
type NetworkCounters struct {
	Rx int64 `json:"rx"`
	Tx int64 `json:"tx"`
}

// ModuleCounters tracks frames received by the sink itself, split by
// delivery path.
type ModuleCounters struct {
	RxLegacy int64 `json:"rx_legacy_frames"`
	RxEdge   int64 `json:"rx_e2l_frames"`
}

// StatsSnapshot is a full copy of the statistics counter set.
type StatsSnapshot struct {
	Gateways          map[string]GatewayCounters `json:"gateways"`
	Devices           map[string]DeviceCounters  `json:"devices"`
	Network           NetworkCounters            `json:"ns"`
	Module            ModuleCounters             `json:"dm"`
	DroppedLegacy     int64                      `json:"dropped_legacy"`
	AggregationResult float64                    `json:"aggregation_result"`
}

// SinkStats is the flattened statistics view consumed by the dashboard
// and the storage backend. The first two gateways in registration order
// occupy the gw_1/gw_2 slots; further gateways contribute nothing here,
// a legacy constraint of the control-plane protocol.
type SinkStats struct {
	GW1Received        int64   `json:"gw_1_received_frame_num"`
	GW1Transmitted     int64   `json:"gw_1_transmitted_frame_num"`
	GW2Received        int64   `json:"gw_2_received_frame_num"`
	GW2Transmitted     int64   `json:"gw_2_transmitted_frame_num"`
	NSReceived         int64   `json:"ns_received_frame_num"`
	NSTransmitted      int64   `json:"ns_transmitted_frame_num"`
	NSDroppedLegacy    int64   `json:"ns_dropped_legacy_frames"`
	ModuleReceived     int64   `json:"dm_received_frame_num"`
	ModuleLegacyFrames int64   `json:"dm_received_legacy_frame_num"`
	ModuleEdgeFrames   int64   `json:"dm_received_e2l_frame_num"`
	AggregationResult  float64 `json:"aggregation_function_result"`
}

// StatisticsReport is one statistics push sent to the dashboard.
type StatisticsReport struct {
	ClientID          int     `json:"client_id"`
	GW1Received       int64   `json:"gw_1_received_frame_num"`
	GW1Transmitted    int64   `json:"gw_1_transmitted_frame_num"`
	GW2Received       int64   `json:"gw_2_received_frame_num"`
	GW2Transmitted    int64   `json:"gw_2_transmitted_frame_num"`
	NSReceived        int64   `json:"ns_received_frame_frame_num"`
	NSTransmitted     int64   `json:"ns_transmitted_frame_frame_num"`
	ModuleReceived    int64   `json:"module_received_frame_frame_num"`
	AggregationResult float64 `json:"aggregation_function_result"`
}
