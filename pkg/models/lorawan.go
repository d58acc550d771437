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

// Package models defines the shared data types of the E2L sink: wire
// messages exchanged over the bus and RPC surfaces, persisted document
// shapes, and statistics snapshots.
package models

// LoRaWAN application ports used to classify uplink traffic.
const (
	PortLegacyData  = 2 // plain application data, forwarded to the edge feed
	PortEdgeJoin    = 3 // edge join handshake carrying the device public key
	PortEdgeData    = 4 // edge data arriving via the legacy route (reserved)
	PortEdgeCommand = 5 // downlink command port (rejoin)
)

// RejoinCommand is the downlink payload that forces a device to re-run
// the edge join handshake against its newly assigned gateway.
const RejoinCommand = "REJOIN"

// DownlinkPriorityHighest is the scheduling priority used for protocol
// downlinks (join accepts and rejoin commands).
const DownlinkPriorityHighest = "HIGHEST"

// Frame types recorded in persisted frame logs.
const (
	FrameEdge             = 1
	FrameLegacy           = 2
	FrameEdgeNotProcessed = 3
	FrameEdgeAggregate    = 4
)

// Log node identifiers used to classify key-agreement log entries for
// the dashboard: the first two registered gateways plus the device.
const (
	LogNodeGateway1 = 1
	LogNodeGateway2 = 2
	LogNodeDevice   = 3
)

// AggregationFunction identifies the operator a gateway applies to its
// aggregation window.
type AggregationFunction int32

const (
	AggregationAvg AggregationFunction = 1
	AggregationSum AggregationFunction = 2
	AggregationMin AggregationFunction = 3
	AggregationMax AggregationFunction = 4
)

// ParseAggregationFunction maps a dashboard-supplied function name to
// its identifier. The second return value reports whether the name was
// recognized; callers fall back to AggregationAvg when it was not.
func ParseAggregationFunction(name string) (AggregationFunction, bool) {
	switch name {
	case "avg", "mean":
		return AggregationAvg, true
	case "sum":
		return AggregationSum, true
	case "min":
		return AggregationMin, true
	case "max":
		return AggregationMax, true
	default:
		return AggregationAvg, false
	}
}
