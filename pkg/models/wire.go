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

import "encoding/json"

// EndDeviceIDs identifies a device in network-server feed messages,
// mirroring The Things Stack envelope.
type EndDeviceIDs struct {
	DeviceID string `json:"device_id"`
	DevEUI   string `json:"dev_eui"`
	DevAddr  string `json:"dev_addr,omitempty"`
}

// UplinkMessage is the payload-bearing part of an uplink event. Radio
// metadata is kept opaque and forwarded downstream untouched.
type UplinkMessage struct {
	FPort      int             `json:"f_port"`
	FCnt       uint32          `json:"f_cnt"`
	FRMPayload string          `json:"frm_payload"` // base64
	ReceivedAt string          `json:"received_at,omitempty"`
	RxMetadata json.RawMessage `json:"rx_metadata,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

// UplinkEvent is a network-server feed message: either an OTAA join
// notification (UplinkMessage nil) or an uplink frame.
type UplinkEvent struct {
	EndDeviceIDs  EndDeviceIDs   `json:"end_device_ids"`
	UplinkMessage *UplinkMessage `json:"uplink_message,omitempty"`
	ReceivedAt    string         `json:"received_at,omitempty"`
}

// Downlink is a single scheduled downlink frame.
type Downlink struct {
	FPort      int    `json:"f_port"`
	FRMPayload string `json:"frm_payload"` // base64
	Priority   string `json:"priority"`
}

// DownlinkEnvelope is the downlink command published to the network
// server for one device.
type DownlinkEnvelope struct {
	Downlinks []Downlink `json:"downlinks"`
}

// PacketAttribution names the gateway that claims to have processed one
// packet of a device within an aggregation batch. The mobility policy
// builds its per-device histograms from these.
type PacketAttribution struct {
	DevAddr   string `json:"dev_addr"`
	GatewayID string `json:"gw_id"`
}

// AggregateReport is a gateway-aggregation feed message carrying the
// result of one aggregation window.
type AggregateReport struct {
	GatewayID      string              `json:"gw_id"`
	DevEUI         string              `json:"dev_eui"`
	DevAddr        string              `json:"dev_addr"`
	AggregatedData float64             `json:"aggregated_data"`
	FCnts          []uint32            `json:"fcnts,omitempty"`
	Timetag        int64               `json:"timetag"`
	Attributions   []PacketAttribution `json:"attributions,omitempty"`
	LogMessage     string              `json:"log_message,omitempty"`
}

// FrameLogReport is a per-frame log record published by a gateway.
type FrameLogReport struct {
	GatewayID string `json:"gw_id"`
	DevAddr   string `json:"dev_addr"`
	Message   string `json:"message"`
	FrameType int    `json:"frame_type"`
	FCnt      uint32 `json:"fcnt"`
	Timetag   int64  `json:"timetag"`
}

// GatewayFrameStats is a periodic per-gateway frame-count sample.
type GatewayFrameStats struct {
	GatewayID              string   `json:"gw_id"`
	LegacyFrames           int64    `json:"legacy_frames"`
	LegacyFCnts            []uint32 `json:"legacy_fcnts,omitempty"`
	EdgeFrames             int64    `json:"edge_frames"`
	EdgeFCnts              []uint32 `json:"edge_fcnts,omitempty"`
	EdgeNotProcessedFrames int64    `json:"edge_not_processed_frames"`
	EdgeNotProcessedFCnts  []uint32 `json:"edge_not_processed_fcnts,omitempty"`
}

// GatewaySysReport is a host-resource sample published by a gateway.
type GatewaySysReport struct {
	GatewayID       string  `json:"gw_id"`
	MemoryUsage     uint64  `json:"memory_usage"`
	MemoryAvailable uint64  `json:"memory_available"`
	CPUUsage        float64 `json:"cpu_usage"`
	DataReceived    int64   `json:"data_received"`
	DataTransmitted int64   `json:"data_transmitted"`
}
