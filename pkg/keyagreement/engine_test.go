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

package keyagreement

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

type fakeGatewayClient struct {
	keys            *KeyPair
	pubInfo         *models.EdPubInfo
	pubInfoDeadline bool
	addCalls        []*models.GatewayDeviceList
	setActive       []bool
}

func (f *fakeGatewayClient) UpdateAggregationParams(_ context.Context, _ *models.AggregationParams) error {
	return nil
}

func (f *fakeGatewayClient) HandleEdPubInfo(ctx context.Context, info *models.EdPubInfo) (*models.EdPubInfoResponse, error) {
	f.pubInfo = info
	_, f.pubInfoDeadline = ctx.Deadline()

	share, err := f.keys.SharedPoint(info.PublicKey)
	if err != nil {
		return nil, err
	}

	return &models.EdPubInfoResponse{GatewayShare: share}, nil
}

func (f *fakeGatewayClient) AddDevices(_ context.Context, list *models.GatewayDeviceList) error {
	f.addCalls = append(f.addCalls, list)
	return nil
}

func (f *fakeGatewayClient) RemoveDevice(_ context.Context, _ *models.DeviceRemoval) (*models.DeviceRemovalResponse, error) {
	return &models.DeviceRemovalResponse{}, nil
}

func (f *fakeGatewayClient) SetActive(_ context.Context, active bool) error {
	f.setActive = append(f.setActive, active)
	return nil
}

type fakePolicy struct {
	dir        *directory.Store
	registered []string
	broadcast  []string
}

func (f *fakePolicy) OnGatewayRegistered(_ context.Context, gatewayID string) {
	f.registered = append(f.registered, gatewayID)
}

func (f *fakePolicy) SelectJoinGateway(_ string) (directory.GatewayRecord, bool) {
	return f.dir.GatewayAt(0)
}

func (f *fakePolicy) BroadcastDevice(_ context.Context, devEUI string) {
	f.broadcast = append(f.broadcast, devEUI)
}

type fakeDownlinks struct {
	devIDs    []string
	envelopes []*models.DownlinkEnvelope
}

func (f *fakeDownlinks) SendDownlink(_ context.Context, devID string, envelope *models.DownlinkEnvelope) error {
	f.devIDs = append(f.devIDs, devID)
	f.envelopes = append(f.envelopes, envelope)

	return nil
}

type fakeEvents struct {
	logs  []string
	joins [][2]int
}

func (f *fakeEvents) LogKeyAgreement(_ context.Context, _ int, message string) {
	f.logs = append(f.logs, message)
}

func (f *fakeEvents) NotifyJoin(_ context.Context, deviceOrdinal, gatewayOrdinal int) {
	f.joins = append(f.joins, [2]int{deviceOrdinal, gatewayOrdinal})
}

func newTestEngine(t *testing.T) (*Engine, *directory.Store, *fakePolicy, *fakeDownlinks, *fakeEvents) {
	t.Helper()

	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	dir := directory.NewStore()
	policy := &fakePolicy{dir: dir}
	downlinks := &fakeDownlinks{}
	events := &fakeEvents{}

	engine := NewEngine(keys, dir, stats.NewAggregator(), policy, downlinks, events, logger.NewTestLogger())

	return engine, dir, policy, downlinks, events
}

func registerTestGateway(t *testing.T, engine *Engine) *fakeGatewayClient {
	t.Helper()

	gwKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	client := &fakeGatewayClient{keys: gwKeys}

	err = engine.RegisterGateway(context.Background(), &models.GatewayRegistration{
		Address:   "gw-1.local",
		Port:      50051,
		PublicKey: gwKeys.PublicKey(),
	}, client)
	require.NoError(t, err)

	return client
}

func TestRegisterGateway(t *testing.T) {
	engine, dir, policy, _, _ := newTestEngine(t)

	registerTestGateway(t, engine)

	rec, ok := dir.Gateway("gw-1.local")
	require.True(t, ok)
	assert.True(t, rec.Active)
	assert.NotEmpty(t, rec.SinkShare)
	assert.Equal(t, []string{"gw-1.local"}, policy.registered)
}

func TestRegisterGatewayRejectsBadKey(t *testing.T) {
	engine, dir, _, _, _ := newTestEngine(t)

	err := engine.RegisterGateway(context.Background(), &models.GatewayRegistration{
		Address:   "gw-bad.local",
		Port:      50051,
		PublicKey: []byte{0x01, 0x02},
	}, &fakeGatewayClient{})

	require.ErrorIs(t, err, ErrInvalidPoint)
	assert.Equal(t, 0, dir.GatewayCount())
}

func TestHandleEdgeJoinDerivesMatchingKeys(t *testing.T) {
	engine, dir, policy, downlinks, events := newTestEngine(t)
	client := registerTestGateway(t, engine)

	devKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	pubKey := base64.StdEncoding.EncodeToString(devKeys.PublicKey())

	err = engine.HandleEdgeJoin(context.Background(), "dev-1", "0102030405060708", "26011BDA", pubKey)
	require.NoError(t, err)

	// The downlink must carry the sink share the device needs for its
	// own half of the derivation.
	require.Len(t, downlinks.envelopes, 1)
	require.Len(t, downlinks.envelopes[0].Downlinks, 1)

	dl := downlinks.envelopes[0].Downlinks[0]
	assert.Equal(t, models.PortEdgeJoin, dl.FPort)
	assert.Equal(t, models.DownlinkPriorityHighest, dl.Priority)

	sinkShare, err := base64.StdEncoding.DecodeString(dl.FRMPayload)
	require.NoError(t, err)

	// Device side of the handshake.
	devSecret, err := devKeys.SharedSecret(sinkShare)
	require.NoError(t, err)

	wantInt, wantEnc := DeriveSessionKeys(devSecret)

	rec, ok := dir.Device("0102030405060708")
	require.True(t, ok)
	assert.Equal(t, wantInt, rec.IntKey)
	assert.Equal(t, wantEnc, rec.EncKey)
	assert.Equal(t, "gw-1.local", rec.GatewayID)

	// The gateway received the device's public material, on a bounded
	// call.
	require.NotNil(t, client.pubInfo)
	assert.Equal(t, devKeys.PublicKey(), client.pubInfo.PublicKey)
	assert.True(t, client.pubInfoDeadline, "gateway call must carry a deadline")

	assert.Equal(t, [][2]int{{1, 1}}, events.joins)
	assert.Equal(t, []string{"0102030405060708"}, policy.broadcast)
}

func TestHandleEdgeJoinWithoutGateways(t *testing.T) {
	engine, dir, _, downlinks, _ := newTestEngine(t)

	devKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	pubKey := base64.StdEncoding.EncodeToString(devKeys.PublicKey())

	err = engine.HandleEdgeJoin(context.Background(), "dev-1", "0102030405060708", "26011BDA", pubKey)
	require.ErrorIs(t, err, ErrNoGateway)

	_, ok := dir.Device("0102030405060708")
	assert.False(t, ok, "failed join must not enter the directory")
	assert.Empty(t, downlinks.envelopes)
}

func TestHandleEdgeJoinRejectsUndecodableKey(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	registerTestGateway(t, engine)

	err := engine.HandleEdgeJoin(context.Background(), "dev-1", "0102030405060708", "26011BDA", "not-base64!!")
	require.Error(t, err)
}

func TestHandleOTAAJoin(t *testing.T) {
	engine, dir, _, _, events := newTestEngine(t)

	err := engine.HandleOTAAJoin(context.Background(), "dev-1", "0102030405060708", "26011BDA")
	require.NoError(t, err)

	rec, ok := dir.Device("0102030405060708")
	require.True(t, ok)
	assert.Empty(t, rec.GatewayID)
	assert.False(t, rec.HasKeys())
	assert.NotEmpty(t, events.logs)
}
