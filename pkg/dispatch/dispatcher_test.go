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

package dispatch

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

type fakeEngine struct {
	otaa  [][3]string
	joins [][4]string
}

func (f *fakeEngine) HandleOTAAJoin(_ context.Context, devID, devEUI, devAddr string) error {
	f.otaa = append(f.otaa, [3]string{devID, devEUI, devAddr})
	return nil
}

func (f *fakeEngine) HandleEdgeJoin(_ context.Context, devID, devEUI, devAddr, pubKeyBase64 string) error {
	f.joins = append(f.joins, [4]string{devID, devEUI, devAddr, pubKeyBase64})
	return nil
}

type fakeMobility struct {
	batches [][]models.PacketAttribution
}

func (f *fakeMobility) ApplyMobility(_ context.Context, attributions []models.PacketAttribution) {
	f.batches = append(f.batches, attributions)
}

type fakeEvents struct {
	nodeIDs  []int
	messages []string
}

func (f *fakeEvents) LogKeyAgreement(_ context.Context, nodeID int, message string) {
	f.nodeIDs = append(f.nodeIDs, nodeID)
	f.messages = append(f.messages, message)
}

type fakeStore struct {
	frameLogs []*models.FrameLogDocument
	gwFrames  []*models.GatewayFramesDocument
	sys       []*models.SysDocument
}

func (f *fakeStore) PersistFrameLog(_ context.Context, doc *models.FrameLogDocument) error {
	f.frameLogs = append(f.frameLogs, doc)
	return nil
}

func (f *fakeStore) PersistGatewayFrames(_ context.Context, doc *models.GatewayFramesDocument) error {
	f.gwFrames = append(f.gwFrames, doc)
	return nil
}

func (f *fakeStore) PersistSys(_ context.Context, doc *models.SysDocument) error {
	f.sys = append(f.sys, doc)
	return nil
}

type fakeForwarder struct {
	gatewayIDs []string
	events     []*models.UplinkEvent
}

func (f *fakeForwarder) ForwardLegacy(_ context.Context, gatewayID string, event *models.UplinkEvent) error {
	f.gatewayIDs = append(f.gatewayIDs, gatewayID)
	f.events = append(f.events, event)

	return nil
}

type harness struct {
	dispatcher *Dispatcher
	dir        *directory.Store
	agg        *stats.Aggregator
	engine     *fakeEngine
	mobility   *fakeMobility
	store      *fakeStore
	events     *fakeEvents
	forwarder  *fakeForwarder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		dir:       directory.NewStore(),
		agg:       stats.NewAggregator(),
		engine:    &fakeEngine{},
		mobility:  &fakeMobility{},
		store:     &fakeStore{},
		events:    &fakeEvents{},
		forwarder: &fakeForwarder{},
	}

	h.dispatcher = NewDispatcher(h.dir, h.agg, h.engine, h.mobility,
		h.store, h.events, h.forwarder, logger.NewTestLogger())

	return h
}

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

func uplinkEvent(fPort int, fCnt uint32) *models.UplinkEvent {
	return &models.UplinkEvent{
		EndDeviceIDs: models.EndDeviceIDs{
			DeviceID: "dev-1",
			DevEUI:   "0102030405060708",
			DevAddr:  "26011BDA",
		},
		UplinkMessage: &models.UplinkMessage{
			FPort:      fPort,
			FCnt:       fCnt,
			FRMPayload: "cGF5bG9hZA==",
		},
	}
}

func TestHandleUplinkOTAAJoin(t *testing.T) {
	h := newHarness(t)

	event := &models.UplinkEvent{
		EndDeviceIDs: models.EndDeviceIDs{DeviceID: "dev-1", DevEUI: "0102030405060708", DevAddr: "26011BDA"},
	}

	h.dispatcher.HandleUplink(context.Background(), marshal(t, event))

	require.Len(t, h.engine.otaa, 1)
	assert.Equal(t, [3]string{"dev-1", "0102030405060708", "26011BDA"}, h.engine.otaa[0])

	snap := h.agg.Snapshot()
	assert.Equal(t, int64(1), snap.Network.Rx)
}

func TestHandleUplinkLegacyForwardsToAssignedGateway(t *testing.T) {
	h := newHarness(t)

	h.dir.UpsertGateway(directory.GatewayRecord{ID: "gw-a"})
	require.NoError(t, h.dir.UpsertDevice(directory.DeviceRecord{DevEUI: "0102030405060708", GatewayID: "gw-a"}))

	h.dispatcher.HandleUplink(context.Background(), marshal(t, uplinkEvent(models.PortLegacyData, 7)))

	require.Equal(t, []string{"gw-a"}, h.forwarder.gatewayIDs)

	snap := h.agg.Snapshot()
	assert.Equal(t, int64(1), snap.Module.RxLegacy)
	assert.Equal(t, int64(1), snap.Devices["0102030405060708"].LegacyFrames)

	require.Len(t, h.store.frameLogs, 1)
	assert.Equal(t, models.FrameLegacy, h.store.frameLogs[0].FrameType)
	assert.Equal(t, uint32(7), h.store.frameLogs[0].FCnt)
	assert.Equal(t, models.DocTypeFrameLog, h.store.frameLogs[0].Type)
	assert.NotEmpty(t, h.store.frameLogs[0].ID)
}

func TestHandleUplinkLegacyUnassignedDropped(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.HandleUplink(context.Background(), marshal(t, uplinkEvent(models.PortLegacyData, 1)))

	assert.Empty(t, h.forwarder.gatewayIDs)

	// Still counted: the frame reached the sink.
	snap := h.agg.Snapshot()
	assert.Equal(t, int64(1), snap.Module.RxLegacy)
}

func TestHandleUplinkEdgeJoin(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.HandleUplink(context.Background(), marshal(t, uplinkEvent(models.PortEdgeJoin, 0)))

	require.Len(t, h.engine.joins, 1)
	assert.Equal(t, "cGF5bG9hZA==", h.engine.joins[0][3])
}

func TestHandleUplinkIgnoredPorts(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.HandleUplink(context.Background(), marshal(t, uplinkEvent(models.PortEdgeData, 0)))
	h.dispatcher.HandleUplink(context.Background(), marshal(t, uplinkEvent(42, 0)))

	assert.Empty(t, h.engine.joins)
	assert.Empty(t, h.forwarder.gatewayIDs)
}

func TestHandleUplinkGarbage(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.HandleUplink(context.Background(), []byte("{not json"))

	snap := h.agg.Snapshot()
	assert.Zero(t, snap.Network.Rx)
}

func TestHandleAggregate(t *testing.T) {
	h := newHarness(t)

	h.dir.UpsertGateway(directory.GatewayRecord{ID: "gw-a"})
	require.NoError(t, h.dir.UpsertDevice(directory.DeviceRecord{DevEUI: "0102030405060708", DevAddr: "26011BDA"}))

	report := &models.AggregateReport{
		GatewayID:      "gw-a",
		DevEUI:         "0102030405060708",
		DevAddr:        "26011BDA",
		AggregatedData: 21.5,
		FCnts:          []uint32{1, 2, 3},
		Attributions: []models.PacketAttribution{
			{DevAddr: "26011BDA", GatewayID: "gw-a"},
		},
	}

	h.dispatcher.HandleGatewayMessage(context.Background(), "aggregate", marshal(t, report))

	snap := h.agg.Snapshot()

	// One push, one transmission. Receive counts come from the gateway's
	// frame-stats samples instead.
	assert.Equal(t, int64(1), snap.Gateways["gw-a"].Tx)
	assert.Zero(t, snap.Gateways["gw-a"].Rx)
	assert.Equal(t, int64(1), snap.Module.RxEdge)
	assert.Equal(t, int64(1), snap.Devices["0102030405060708"].EdgeFrames)

	// Primary device: the headline aggregation value updates.
	assert.InDelta(t, 21.5, snap.AggregationResult, 0.0001)

	require.Len(t, h.mobility.batches, 1)

	require.Len(t, h.store.frameLogs, 1)
	assert.Equal(t, models.FrameEdgeAggregate, h.store.frameLogs[0].FrameType)
}

func TestHandleAggregateSecondaryDeviceKeepsResult(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dir.UpsertDevice(directory.DeviceRecord{DevEUI: "primary", DevAddr: "26010001"}))
	require.NoError(t, h.dir.UpsertDevice(directory.DeviceRecord{DevEUI: "secondary", DevAddr: "26010002"}))

	report := &models.AggregateReport{GatewayID: "gw-a", DevEUI: "secondary", AggregatedData: 99}

	h.dispatcher.HandleGatewayMessage(context.Background(), "aggregate", marshal(t, report))

	snap := h.agg.Snapshot()
	assert.Zero(t, snap.AggregationResult)
}

func TestHandleFrameStats(t *testing.T) {
	h := newHarness(t)

	sample := &models.GatewayFrameStats{
		GatewayID:    "gw-a",
		LegacyFrames: 2,
		EdgeFrames:   5,
	}

	h.dispatcher.HandleGatewayMessage(context.Background(), "frames", marshal(t, sample))

	assert.Equal(t, int64(7), h.agg.GatewayRx("gw-a"))

	snap := h.agg.Snapshot()
	assert.Equal(t, int64(2), snap.Gateways["gw-a"].Tx, "forwarded legacy frames count as transmissions")

	require.Len(t, h.store.gwFrames, 1)
	assert.Equal(t, models.DocTypeGatewayFrames, h.store.gwFrames[0].Type)
}

func TestGatewayCountersAcrossAggregateAndFrameStats(t *testing.T) {
	h := newHarness(t)

	h.dir.UpsertGateway(directory.GatewayRecord{ID: "gw-a"})

	report := &models.AggregateReport{
		GatewayID: "gw-a",
		DevAddr:   "26011BDA",
		FCnts:     []uint32{1, 2, 3},
	}
	h.dispatcher.HandleGatewayMessage(context.Background(), "aggregate", marshal(t, report))

	sample := &models.GatewayFrameStats{GatewayID: "gw-a", LegacyFrames: 5, EdgeFrames: 3}
	h.dispatcher.HandleGatewayMessage(context.Background(), "frames", marshal(t, sample))

	flat := h.agg.Flatten([]string{"gw-a"})
	assert.Equal(t, int64(8), flat.GW1Received)
	assert.Equal(t, int64(6), flat.GW1Transmitted)
}

func TestHandleSysReport(t *testing.T) {
	h := newHarness(t)

	report := &models.GatewaySysReport{GatewayID: "gw-a", CPUUsage: 12.5, MemoryUsage: 1024}

	h.dispatcher.HandleGatewayMessage(context.Background(), "sys", marshal(t, report))

	require.Len(t, h.store.sys, 1)
	assert.Equal(t, "gw-a", h.store.sys[0].GatewayID)
	assert.InDelta(t, 12.5, h.store.sys[0].CPUUsage, 0.0001)
}

func TestHandleFrameLogMessage(t *testing.T) {
	h := newHarness(t)

	report := &models.FrameLogReport{
		GatewayID: "gw-a",
		DevAddr:   "26011BDA",
		Message:   "Processed Edge Frame",
		FrameType: models.FrameEdge,
		FCnt:      11,
		Timetag:   1700000000000,
	}

	h.dispatcher.HandleGatewayMessage(context.Background(), "log", marshal(t, report))

	require.Len(t, h.store.frameLogs, 1)
	assert.Equal(t, int64(1700000000000), h.store.frameLogs[0].TimetagGW)
	assert.NotZero(t, h.store.frameLogs[0].TimetagDM)

	// Storage mode: frame activity is persisted, not sent live.
	assert.Empty(t, h.events.messages)
}

func TestDashboardModeForwardsAggregateEvents(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.store = nil

	h.dir.UpsertGateway(directory.GatewayRecord{ID: "gw-a"})

	report := &models.AggregateReport{
		GatewayID:  "gw-a",
		DevAddr:    "26011BDA",
		LogMessage: "Processed Aggregation Window",
	}

	h.dispatcher.HandleGatewayMessage(context.Background(), "aggregate", marshal(t, report))

	require.Len(t, h.events.messages, 2)
	assert.Equal(t, models.LogNodeGateway1, h.events.nodeIDs[0])
	assert.Equal(t, "Processed Aggregation Window", h.events.messages[0])
	assert.Equal(t, models.LogNodeDevice, h.events.nodeIDs[1])
	assert.Equal(t, "E2L Frame Received by DM", h.events.messages[1])
}

func TestDashboardModeForwardsGatewayLogs(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.store = nil

	h.dir.UpsertGateway(directory.GatewayRecord{ID: "gw-a"})
	h.dir.UpsertGateway(directory.GatewayRecord{ID: "gw-b"})

	report := &models.FrameLogReport{GatewayID: "gw-b", Message: "Processed Edge Frame"}

	h.dispatcher.HandleGatewayMessage(context.Background(), "log", marshal(t, report))

	require.Len(t, h.events.messages, 1)
	assert.Equal(t, models.LogNodeGateway2, h.events.nodeIDs[0])
	assert.Equal(t, "Processed Edge Frame", h.events.messages[0])
}

func TestHandleRelinquishedDataPrimary(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dir.UpsertDevice(directory.DeviceRecord{DevEUI: "primary", DevAddr: "26010001"}))

	h.dispatcher.HandleRelinquishedData(context.Background(), "gw-a", "primary", "26010001", 33.5)

	snap := h.agg.Snapshot()
	assert.InDelta(t, 33.5, snap.AggregationResult, 0.0001)
	assert.Equal(t, int64(1), snap.Module.RxEdge)

	require.Len(t, h.store.frameLogs, 1)
}

func TestNilStoreSkipsPersistence(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.store = nil

	h.dispatcher.HandleUplink(context.Background(), marshal(t, uplinkEvent(models.PortLegacyData, 1)))
	h.dispatcher.HandleGatewayMessage(context.Background(), "sys",
		marshal(t, &models.GatewaySysReport{GatewayID: "gw-a"}))

	assert.Empty(t, h.store.frameLogs)
	assert.Empty(t, h.store.sys)
}

func TestSubjectKind(t *testing.T) {
	assert.Equal(t, "aggregate", subjectKind("e2l.gw.gw-a.aggregate"))
	assert.Equal(t, "plain", subjectKind("plain"))
}
