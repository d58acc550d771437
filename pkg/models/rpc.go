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

// GatewayRegistration is the gateway → sink registration call: the
// gateway announces its RPC endpoint and long-lived public key
// (compressed SEC1 point).
type GatewayRegistration struct {
	Address   string `json:"gw_rpc_endpoint_address"`
	Port      int    `json:"gw_rpc_endpoint_port"`
	PublicKey []byte `json:"gw_pub_key"`
}

// GatewayRegistrationResponse acknowledges a registration.
type GatewayRegistrationResponse struct {
	StatusCode int `json:"status_code"`
}

// AggregationParams configures a gateway's aggregation window.
type AggregationParams struct {
	Function   AggregationFunction `json:"aggregation_function"`
	WindowSize int                 `json:"window_size"`
}

// EdPubInfo forwards a joining device's public key material to its
// assigned gateway. SinkShare is the s·Pd point the gateway needs for
// its own half of the derivation; PublicKey is the device's compressed
// public point.
type EdPubInfo struct {
	DevEUI    string `json:"dev_eui"`
	DevAddr   string `json:"dev_addr"`
	SinkShare []byte `json:"g_as_ed"`
	PublicKey []byte `json:"dev_public_key"`
}

// EdPubInfoResponse returns the gateway's intermediate point g·Pd.
type EdPubInfoResponse struct {
	StatusCode   int    `json:"status_code"`
	GatewayShare []byte `json:"g_gw_ed"`
}

// GatewayDevice is one entry of a device push to a gateway. Assigned
// devices carry session keys; devices assigned elsewhere are pushed as
// routing-only records so mis-routed packets can be redirected.
type GatewayDevice struct {
	DevEUI   string `json:"dev_eui"`
	DevAddr  string `json:"dev_addr"`
	Assigned bool   `json:"assigned"`
	EncKey   []byte `json:"edge_s_enc_key,omitempty"`
	IntKey   []byte `json:"edge_s_int_key,omitempty"`
}

// GatewayDeviceList is a bulk device push.
type GatewayDeviceList struct {
	Devices []GatewayDevice `json:"device_list"`
}

// DeviceRemoval asks a gateway to relinquish a device.
type DeviceRemoval struct {
	DevEUI  string `json:"dev_eui"`
	DevAddr string `json:"dev_addr"`
}

// DeviceRemovalResponse returns any aggregated-but-unflushed data the
// gateway was still holding for the removed device.
type DeviceRemovalResponse struct {
	StatusCode          int     `json:"status_code"`
	AggregatedData      float64 `json:"aggregated_data"`
	AggregatedDataCount int     `json:"aggregated_data_num"`
}

// ActiveFlag toggles a gateway's liveness.
type ActiveFlag struct {
	IsActive bool `json:"is_active"`
}

// StatusResponse is the generic acknowledgment for gateway calls.
type StatusResponse struct {
	StatusCode int `json:"status_code"`
}

// LogMessage is a key-agreement log entry pushed to the dashboard.
type LogMessage struct {
	ClientID    int    `json:"client_id"`
	NodeID      int    `json:"key_agreement_log_message_node_id"`
	Message     string `json:"key_agreement_message_log"`
	ProcessTime int64  `json:"key_agreement_process_time"`
}

// JoinUpdate notifies the dashboard of a completed edge join so it can
// redraw the network topology. Ordinals are 1-based.
type JoinUpdate struct {
	ClientID       int `json:"client_id"`
	DeviceOrdinal  int `json:"ed_id"`
	GatewayOrdinal int `json:"gw_id"`
}

// DashboardParams is the dashboard's reply to a statistics push: the
// legacy per-slot gateway overrides (1-based, 0 = unset) plus the
// aggregation parameters to apply fleet-wide.
type DashboardParams struct {
	SlotGatewaySelection [3]int `json:"ed_gw_selection"`
	AggregationFunction  string `json:"process_function"`
	WindowSize           int    `json:"process_window"`
}

// Ack is an empty dashboard acknowledgment.
type Ack struct{}
