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

// Document kinds persisted by the storage backend. Every document is
// keyed by an ISO-8601 timestamp so records sort chronologically.
const (
	DocTypeStats         = "stats"
	DocTypeLog           = "logs"
	DocTypeFrameLog      = "logs_v2"
	DocTypeSys           = "sys"
	DocTypeGatewayFrames = "gw_stats"
)

// StatsDocument is a persisted statistics delta.
type StatsDocument struct {
	ID   string `json:"_id"`
	Type string `json:"type"`
	SinkStats
}

// KeyAgreementLogDocument is a persisted key-agreement log entry.
type KeyAgreementLogDocument struct {
	ID          string `json:"_id"`
	Type        string `json:"type"`
	NodeID      int    `json:"key_agreement_log_message_node_id"`
	Message     string `json:"key_agreement_message_log"`
	ProcessTime int64  `json:"key_agreement_process_time"`
}

// FrameLogDocument is a persisted per-frame log record. TimetagGW is
// the gateway-side receive timestamp; TimetagDM is set by the sink when
// the record is written.
type FrameLogDocument struct {
	ID        string   `json:"_id"`
	Type      string   `json:"type"`
	ModuleID  string   `json:"module_id"`
	DevAddr   string   `json:"dev_addr"`
	Log       string   `json:"log"`
	FrameType int      `json:"frame_type"`
	FCnt      uint32   `json:"fcnt"`
	FCnts     []uint32 `json:"fcnts,omitempty"`
	TimetagGW int64    `json:"timetag_gw"`
	TimetagDM int64    `json:"timetag_dm"`
	GatewayID string   `json:"gw_id,omitempty"`
}

// SysDocument is a persisted host-resource sample, either the sink's
// own or one reported by a gateway.
type SysDocument struct {
	ID              string  `json:"_id"`
	Type            string  `json:"type"`
	GatewayID       string  `json:"gw_id"`
	MemoryUsage     uint64  `json:"memory_usage"`
	MemoryAvailable uint64  `json:"memory_available"`
	CPUUsage        float64 `json:"cpu_usage"`
	DataReceived    int64   `json:"data_received"`
	DataTransmitted int64   `json:"data_transmitted"`
}

// GatewayFramesDocument is a persisted per-gateway frame-count sample.
type GatewayFramesDocument struct {
	ID                     string   `json:"_id"`
	Type                   string   `json:"type"`
	GatewayID              string   `json:"gw_id"`
	LegacyFrames           int64    `json:"legacy_frames"`
	LegacyFCnts            []uint32 `json:"legacy_fcnts,omitempty"`
	EdgeFrames             int64    `json:"edge_frames"`
	EdgeFCnts              []uint32 `json:"edge_fcnts,omitempty"`
	EdgeNotProcessedFrames int64    `json:"edge_not_processed_frames"`
	EdgeNotProcessedFCnts  []uint32 `json:"edge_not_processed_fcnts,omitempty"`
}
