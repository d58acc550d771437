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

// Package dispatch routes the two inbound feeds of the sink: the
// network-server uplink feed and the gateway telemetry feed. Messages
// are classified, counted, persisted where storage mode is active, and
// handed to the key-agreement engine or the assignment policy.
package dispatch

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

// moduleID marks frame-log records written by the sink itself.
const moduleID = "dm"

// JoinEngine is the key-agreement surface the dispatcher drives.
type JoinEngine interface {
	HandleOTAAJoin(ctx context.Context, devID, devEUI, devAddr string) error
	HandleEdgeJoin(ctx context.Context, devID, devEUI, devAddr, pubKeyBase64 string) error
}

// MobilityPolicy consumes per-packet gateway attributions.
type MobilityPolicy interface {
	ApplyMobility(ctx context.Context, attributions []models.PacketAttribution)
}

// DocumentStore persists telemetry documents in storage mode.
type DocumentStore interface {
	PersistFrameLog(ctx context.Context, doc *models.FrameLogDocument) error
	PersistGatewayFrames(ctx context.Context, doc *models.GatewayFramesDocument) error
	PersistSys(ctx context.Context, doc *models.SysDocument) error
}

// LegacyForwarder republishes a legacy uplink toward the device's
// assigned gateway.
type LegacyForwarder interface {
	ForwardLegacy(ctx context.Context, gatewayID string, event *models.UplinkEvent) error
}

// EventSink forwards live frame activity to the dashboard in dashboard
// mode, where no storage backend records it.
type EventSink interface {
	LogKeyAgreement(ctx context.Context, nodeID int, message string)
}

// Dispatcher classifies and routes inbound feed messages.
type Dispatcher struct {
	dir       *directory.Store
	stats     *stats.Aggregator
	engine    JoinEngine
	mobility  MobilityPolicy
	store     DocumentStore // nil in dashboard mode
	events    EventSink
	forwarder LegacyForwarder
	logger    logger.Logger
	now       func() time.Time
}

// NewDispatcher wires the dispatcher. store may be nil when no storage
// backend is configured; frame activity then goes to events instead.
func NewDispatcher(
	dir *directory.Store,
	agg *stats.Aggregator,
	engine JoinEngine,
	mobility MobilityPolicy,
	store DocumentStore,
	events EventSink,
	forwarder LegacyForwarder,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		dir:       dir,
		stats:     agg,
		engine:    engine,
		mobility:  mobility,
		store:     store,
		events:    events,
		forwarder: forwarder,
		logger:    log,
		now:       time.Now,
	}
}

// HandleUplink processes one network-server feed message: an OTAA join
// notification when no uplink payload is present, otherwise an uplink
// frame classified by application port.
func (d *Dispatcher) HandleUplink(ctx context.Context, data []byte) {
	var event models.UplinkEvent
	if err := json.Unmarshal(data, &event); err != nil {
		d.logger.Warn().Err(err).Msg("Undecodable uplink event")
		return
	}

	d.stats.RecordNetworkRx()

	ids := event.EndDeviceIDs

	if event.UplinkMessage == nil {
		if err := d.engine.HandleOTAAJoin(ctx, ids.DeviceID, ids.DevEUI, ids.DevAddr); err != nil {
			d.logger.Warn().Err(err).Str("dev_eui", ids.DevEUI).Msg("Failed to record OTAA activation")
		}

		return
	}

	switch event.UplinkMessage.FPort {
	case models.PortLegacyData:
		d.handleLegacyUplink(ctx, &event)
	case models.PortEdgeJoin:
		if err := d.engine.HandleEdgeJoin(ctx, ids.DeviceID, ids.DevEUI, ids.DevAddr,
			event.UplinkMessage.FRMPayload); err != nil {
			d.logger.Warn().Err(err).Str("dev_eui", ids.DevEUI).Msg("Edge join failed")
		}
	case models.PortEdgeData:
		// Edge data that leaked through the legacy route. The gateway
		// already processed it; nothing to do here.
		d.logger.Debug().Str("dev_eui", ids.DevEUI).Msg("Ignoring edge frame on legacy route")
	default:
		d.logger.Debug().
			Str("dev_eui", ids.DevEUI).
			Int("f_port", event.UplinkMessage.FPort).
			Msg("Dropping uplink on unhandled port")
	}
}

// handleLegacyUplink counts a legacy frame and republishes it toward
// the device's assigned gateway. Frames of unassigned devices are
// dropped.
func (d *Dispatcher) handleLegacyUplink(ctx context.Context, event *models.UplinkEvent) {
	ids := event.EndDeviceIDs

	d.stats.RecordModuleRx(stats.FrameKindLegacy)
	d.stats.RecordDeviceFrame(ids.DevEUI, stats.FrameKindLegacy)

	d.persistFrameLog(ctx, &models.FrameLogDocument{
		DevAddr:   ids.DevAddr,
		Log:       "Received Legacy Frame",
		FrameType: models.FrameLegacy,
		FCnt:      event.UplinkMessage.FCnt,
	})

	rec, ok := d.dir.Device(ids.DevEUI)
	if !ok || rec.GatewayID == "" {
		d.logger.Debug().Str("dev_eui", ids.DevEUI).Msg("Legacy frame from unassigned device, dropping")
		return
	}

	if err := d.forwarder.ForwardLegacy(ctx, rec.GatewayID, event); err != nil {
		d.logger.Warn().Err(err).Str("dev_eui", ids.DevEUI).Str("gw_id", rec.GatewayID).
			Msg("Failed to forward legacy frame")
	}
}

// HandleGatewayMessage processes one gateway feed message. kind is the
// trailing subject token: aggregate, log, frames, or sys.
func (d *Dispatcher) HandleGatewayMessage(ctx context.Context, kind string, data []byte) {
	switch kind {
	case "aggregate":
		d.handleAggregate(ctx, data)
	case "log":
		d.handleFrameLog(ctx, data)
	case "frames":
		d.handleFrameStats(ctx, data)
	case "sys":
		d.handleSysReport(ctx, data)
	default:
		d.logger.Debug().Str("kind", kind).Msg("Unknown gateway feed message")
	}
}

// handleAggregate ingests one aggregation-window result: edge traffic
// counters, the dashboard's headline aggregation value when the report
// concerns the primary device, and mobility attributions. The push
// itself counts as one gateway transmission; the frames behind it are
// counted by the gateway's frame-stats samples.
func (d *Dispatcher) handleAggregate(ctx context.Context, data []byte) {
	var report models.AggregateReport
	if err := json.Unmarshal(data, &report); err != nil {
		d.logger.Warn().Err(err).Msg("Undecodable aggregate report")
		return
	}

	d.stats.RecordGatewayTx(report.GatewayID, 1)
	d.stats.RecordModuleRx(stats.FrameKindEdge)

	eui := report.DevEUI
	if eui == "" {
		if rec, ok := d.dir.DeviceByAddr(report.DevAddr); ok {
			eui = rec.DevEUI
		}
	}

	if eui != "" {
		d.stats.RecordDeviceFrame(eui, stats.FrameKindEdge)
	}

	if d.isPrimaryDevice(eui, report.DevAddr) {
		d.stats.RecordAggregationResult(report.AggregatedData)
	}

	logLine := report.LogMessage
	if logLine == "" {
		logLine = "Received Aggregated Frame"
	}

	if d.store == nil {
		d.logGatewayEvent(ctx, report.GatewayID, logLine)
		d.logDeviceEvent(ctx, "E2L Frame Received by DM")
	}

	d.persistFrameLog(ctx, &models.FrameLogDocument{
		GatewayID: report.GatewayID,
		DevAddr:   report.DevAddr,
		Log:       logLine,
		FrameType: models.FrameEdgeAggregate,
		FCnts:     report.FCnts,
		TimetagGW: report.Timetag,
	})

	if len(report.Attributions) > 0 {
		d.mobility.ApplyMobility(ctx, report.Attributions)
	}
}

// HandleRelinquishedData folds data a gateway returned while giving up
// a device back into the edge path, so the window the gateway could not
// flush is not lost.
func (d *Dispatcher) HandleRelinquishedData(ctx context.Context, gatewayID, devEUI, devAddr string, aggregatedData float64) {
	d.stats.RecordModuleRx(stats.FrameKindEdge)

	if devEUI != "" {
		d.stats.RecordDeviceFrame(devEUI, stats.FrameKindEdge)
	}

	if d.isPrimaryDevice(devEUI, devAddr) {
		d.stats.RecordAggregationResult(aggregatedData)
	}

	d.persistFrameLog(ctx, &models.FrameLogDocument{
		GatewayID: gatewayID,
		DevAddr:   devAddr,
		Log:       "Recovered aggregated data from relinquished device",
		FrameType: models.FrameEdgeAggregate,
	})
}

func (d *Dispatcher) handleFrameLog(ctx context.Context, data []byte) {
	var report models.FrameLogReport
	if err := json.Unmarshal(data, &report); err != nil {
		d.logger.Warn().Err(err).Msg("Undecodable frame log")
		return
	}

	if d.store == nil {
		d.logGatewayEvent(ctx, report.GatewayID, report.Message)
		return
	}

	d.persistFrameLog(ctx, &models.FrameLogDocument{
		GatewayID: report.GatewayID,
		DevAddr:   report.DevAddr,
		Log:       report.Message,
		FrameType: report.FrameType,
		FCnt:      report.FCnt,
		TimetagGW: report.Timetag,
	})
}

// handleFrameStats ingests a periodic per-gateway frame-count sample.
// The sample is incremental: counts cover the interval since the
// previous sample.
func (d *Dispatcher) handleFrameStats(ctx context.Context, data []byte) {
	var sample models.GatewayFrameStats
	if err := json.Unmarshal(data, &sample); err != nil {
		d.logger.Warn().Err(err).Msg("Undecodable gateway frame stats")
		return
	}

	received := sample.LegacyFrames + sample.EdgeFrames + sample.EdgeNotProcessedFrames
	if received > 0 {
		d.stats.RecordGatewayRx(sample.GatewayID, received)
	}

	// Legacy frames are forwarded over the air, so they count as
	// transmissions too.
	if sample.LegacyFrames > 0 {
		d.stats.RecordGatewayTx(sample.GatewayID, sample.LegacyFrames)
	}

	if d.store != nil {
		doc := &models.GatewayFramesDocument{
			ID:                     d.timestamp(),
			Type:                   models.DocTypeGatewayFrames,
			GatewayID:              sample.GatewayID,
			LegacyFrames:           sample.LegacyFrames,
			LegacyFCnts:            sample.LegacyFCnts,
			EdgeFrames:             sample.EdgeFrames,
			EdgeFCnts:              sample.EdgeFCnts,
			EdgeNotProcessedFrames: sample.EdgeNotProcessedFrames,
			EdgeNotProcessedFCnts:  sample.EdgeNotProcessedFCnts,
		}

		if err := d.store.PersistGatewayFrames(ctx, doc); err != nil {
			d.logger.Warn().Err(err).Str("gw_id", sample.GatewayID).Msg("Failed to persist gateway frame stats")
		}
	}
}

func (d *Dispatcher) handleSysReport(ctx context.Context, data []byte) {
	var report models.GatewaySysReport
	if err := json.Unmarshal(data, &report); err != nil {
		d.logger.Warn().Err(err).Msg("Undecodable gateway sys report")
		return
	}

	if d.store == nil {
		return
	}

	doc := &models.SysDocument{
		ID:              d.timestamp(),
		Type:            models.DocTypeSys,
		GatewayID:       report.GatewayID,
		MemoryUsage:     report.MemoryUsage,
		MemoryAvailable: report.MemoryAvailable,
		CPUUsage:        report.CPUUsage,
		DataReceived:    report.DataReceived,
		DataTransmitted: report.DataTransmitted,
	}

	if err := d.store.PersistSys(ctx, doc); err != nil {
		d.logger.Warn().Err(err).Str("gw_id", report.GatewayID).Msg("Failed to persist gateway sys report")
	}
}

// logGatewayEvent forwards a gateway frame message under the node id of
// the gateway's directory slot. Only the first two gateways have a
// dashboard node.
func (d *Dispatcher) logGatewayEvent(ctx context.Context, gatewayID, message string) {
	if d.events == nil || message == "" {
		return
	}

	switch d.dir.GatewayIndex(gatewayID) {
	case 0:
		d.events.LogKeyAgreement(ctx, models.LogNodeGateway1, message)
	case 1:
		d.events.LogKeyAgreement(ctx, models.LogNodeGateway2, message)
	}
}

func (d *Dispatcher) logDeviceEvent(ctx context.Context, message string) {
	if d.events == nil {
		return
	}

	d.events.LogKeyAgreement(ctx, models.LogNodeDevice, message)
}

// isPrimaryDevice reports whether the given device occupies ordinal 0,
// whose aggregation results feed the dashboard's headline value.
func (d *Dispatcher) isPrimaryDevice(devEUI, devAddr string) bool {
	if devEUI != "" {
		return d.dir.DeviceOrdinal(devEUI) == 0
	}

	if devAddr != "" {
		if rec, ok := d.dir.DeviceByAddr(devAddr); ok {
			return d.dir.DeviceOrdinal(rec.DevEUI) == 0
		}
	}

	return false
}

func (d *Dispatcher) persistFrameLog(ctx context.Context, doc *models.FrameLogDocument) {
	if d.store == nil {
		return
	}

	doc.ID = d.timestamp()
	doc.Type = models.DocTypeFrameLog
	doc.ModuleID = moduleID
	doc.TimetagDM = d.now().UnixMilli()

	if err := d.store.PersistFrameLog(ctx, doc); err != nil {
		d.logger.Warn().Err(err).Str("dev_addr", doc.DevAddr).Msg("Failed to persist frame log")
	}
}

func (d *Dispatcher) timestamp() string {
	return d.now().UTC().Format(time.RFC3339Nano)
}
