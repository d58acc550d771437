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
	"errors"
	"fmt"
	"time"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

// ErrNoGateway is returned when a device joins before any gateway has
// registered. The device stays unassigned and retries later.
var ErrNoGateway = errors.New("no gateway available")

// defaultRPCTimeout bounds the gateway call inside a join handshake.
// The handshake runs on a feed worker, so a hung gateway must not stall
// uplink consumption.
const defaultRPCTimeout = 5 * time.Second

// AssignmentPolicy is the slice of the gateway-assignment policy the
// engine drives: gateway selection for joining devices, the post-
// registration distribution, and the directory-wide broadcast after a
// device acquires keys.
type AssignmentPolicy interface {
	OnGatewayRegistered(ctx context.Context, gatewayID string)
	SelectJoinGateway(devEUI string) (directory.GatewayRecord, bool)
	BroadcastDevice(ctx context.Context, devEUI string)
}

// DownlinkSender schedules a downlink frame for a device via the
// network server.
type DownlinkSender interface {
	SendDownlink(ctx context.Context, devID string, envelope *models.DownlinkEnvelope) error
}

// EventSink receives key-agreement progress events, routed either to
// the dashboard or to storage depending on the deployment mode.
type EventSink interface {
	LogKeyAgreement(ctx context.Context, nodeID int, message string)
	NotifyJoin(ctx context.Context, deviceOrdinal, gatewayOrdinal int)
}

// Engine runs the sink side of the key-agreement protocol.
type Engine struct {
	keys       *KeyPair
	dir        *directory.Store
	stats      *stats.Aggregator
	policy     AssignmentPolicy
	downlinks  DownlinkSender
	events     EventSink
	logger     logger.Logger
	rpcTimeout time.Duration
}

// NewEngine creates the engine around the sink's process-wide key pair.
func NewEngine(
	keys *KeyPair,
	dir *directory.Store,
	agg *stats.Aggregator,
	policy AssignmentPolicy,
	downlinks DownlinkSender,
	events EventSink,
	log logger.Logger,
) *Engine {
	return &Engine{
		keys:       keys,
		dir:        dir,
		stats:      agg,
		policy:     policy,
		downlinks:  downlinks,
		events:     events,
		logger:     log,
		rpcTimeout: defaultRPCTimeout,
	}
}

// RegisterGateway admits a gateway into the directory: it computes and
// caches the gateway-specific point s·Pg, upserts the record, and hands
// control to the assignment policy for parameter push and initial
// device distribution.
func (e *Engine) RegisterGateway(ctx context.Context, reg *models.GatewayRegistration, client directory.GatewayClient) error {
	share, err := e.keys.SharedPoint(reg.PublicKey)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", reg.Address, err)
	}

	created := e.dir.UpsertGateway(directory.GatewayRecord{
		ID:        reg.Address,
		Address:   reg.Address,
		Port:      reg.Port,
		PublicKey: append([]byte(nil), reg.PublicKey...),
		SinkShare: share,
		Client:    client,
	})

	e.stats.EnsureGateway(reg.Address)

	message := "Updated GW info in DM active directory"
	if created {
		message = "Added GW info in DM active directory"
	}

	e.logger.Info().Str("gw_id", reg.Address).Int("port", reg.Port).Msg(message)
	e.logGatewayEvent(ctx, reg.Address, message)

	e.policy.OnGatewayRegistered(ctx, reg.Address)

	return nil
}

// HandleOTAAJoin records a network-layer activation: the device enters
// the directory and the statistics set, unassigned and without session
// keys. The edge join follows on a later uplink.
func (e *Engine) HandleOTAAJoin(ctx context.Context, devID, devEUI, devAddr string) error {
	e.events.LogKeyAgreement(ctx, models.LogNodeDevice,
		fmt.Sprintf("Dev %s OTAA Activated. (Addr: %s)", devEUI, devAddr))

	e.stats.EnsureDevice(devEUI, devAddr)

	return e.dir.UpsertDevice(directory.DeviceRecord{
		DevID:   devID,
		DevEUI:  devEUI,
		DevAddr: devAddr,
	})
}

// HandleEdgeJoin runs one join handshake. The device's compressed
// public point arrives base64-wrapped in the uplink payload. On any
// protocol failure the directory is left unchanged and the device can
// retry.
func (e *Engine) HandleEdgeJoin(ctx context.Context, devID, devEUI, devAddr, pubKeyBase64 string) error {
	e.events.LogKeyAgreement(ctx, models.LogNodeDevice,
		fmt.Sprintf("Starting Edge Join (Dev: %s)", devAddr))

	devPubKey, err := base64.StdEncoding.DecodeString(pubKeyBase64)
	if err != nil {
		return fmt.Errorf("device %s: undecodable public key: %w", devEUI, err)
	}

	// s·Pd for the assigned gateway; also validates the point encoding
	// before anything is mutated or transmitted.
	devShare, err := e.keys.SharedPoint(devPubKey)
	if err != nil {
		return fmt.Errorf("device %s: %w", devEUI, err)
	}

	gateway, err := e.joinGateway(devEUI)
	if err != nil {
		return err
	}

	if err := e.dir.UpsertDevice(directory.DeviceRecord{
		DevID:   devID,
		DevEUI:  devEUI,
		DevAddr: devAddr,
	}); err != nil {
		return err
	}

	if err := e.dir.SetAssignedGateway(devEUI, gateway.ID); err != nil {
		return err
	}

	e.stats.EnsureDevice(devEUI, devAddr)

	e.events.LogKeyAgreement(ctx, models.LogNodeDevice,
		fmt.Sprintf("Send EdgeJoinRequest (Dev: %s)", devAddr))

	// Step 1: the cached s·Pg goes to the device as a downlink.
	envelope := &models.DownlinkEnvelope{
		Downlinks: []models.Downlink{{
			FPort:      models.PortEdgeJoin,
			FRMPayload: base64.StdEncoding.EncodeToString(gateway.SinkShare),
			Priority:   models.DownlinkPriorityHighest,
		}},
	}

	if err := e.downlinks.SendDownlink(ctx, devID, envelope); err != nil {
		return fmt.Errorf("device %s: downlink failed: %w", devEUI, err)
	}

	e.events.LogKeyAgreement(ctx, models.LogNodeDevice,
		fmt.Sprintf("Received EdgeAcceptRequest (Dev: %s)", devAddr))

	// Step 2: Pd and s·Pd go to the gateway, which answers with g·Pd.
	callCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	resp, err := gateway.Client.HandleEdPubInfo(callCtx, &models.EdPubInfo{
		DevEUI:    devEUI,
		DevAddr:   devAddr,
		SinkShare: devShare,
		PublicKey: devPubKey,
	})

	cancel()

	if err != nil {
		return fmt.Errorf("device %s: gateway %s rejected pub info: %w", devEUI, gateway.ID, err)
	}

	e.logGatewayEvent(ctx, gateway.ID, fmt.Sprintf("Received Device %s Public Info", devAddr))

	// Step 3: K = s·(g·Pd); keep only the derived keys.
	secret, err := e.keys.SharedSecret(resp.GatewayShare)
	if err != nil {
		return fmt.Errorf("device %s: gateway %s returned bad share: %w", devEUI, gateway.ID, err)
	}

	intKey, encKey := DeriveSessionKeys(secret)

	if err := e.dir.SetSessionKeys(devEUI, intKey, encKey); err != nil {
		return err
	}

	gatewayOrdinal := e.dir.GatewayIndex(gateway.ID) + 1
	deviceOrdinal := e.dir.DeviceOrdinal(devEUI) + 1

	e.events.LogKeyAgreement(ctx, models.LogNodeDevice,
		fmt.Sprintf("Edge Join Completed (Dev: %s, GW: %d)", devAddr, gatewayOrdinal))
	e.logGatewayEvent(ctx, gateway.ID, fmt.Sprintf("Edge Join Completed (Dev: %s)", devAddr))

	e.events.NotifyJoin(ctx, deviceOrdinal, gatewayOrdinal)

	e.policy.BroadcastDevice(ctx, devEUI)

	return nil
}

// joinGateway resolves the gateway for a joining device: the current
// assignment when one exists, otherwise the policy's selection.
func (e *Engine) joinGateway(devEUI string) (directory.GatewayRecord, error) {
	if rec, ok := e.dir.Device(devEUI); ok && rec.GatewayID != "" {
		if gw, ok := e.dir.Gateway(rec.GatewayID); ok {
			return gw, nil
		}
	}

	gw, ok := e.policy.SelectJoinGateway(devEUI)
	if !ok {
		return directory.GatewayRecord{}, ErrNoGateway
	}

	return gw, nil
}

// logGatewayEvent classifies a gateway log entry by registration slot.
// Only the first two gateways are representable in the control-plane
// log protocol.
func (e *Engine) logGatewayEvent(ctx context.Context, gatewayID, message string) {
	switch e.dir.GatewayIndex(gatewayID) {
	case 0:
		e.events.LogKeyAgreement(ctx, models.LogNodeGateway1, message)
	case 1:
		e.events.LogKeyAgreement(ctx, models.LogNodeGateway2, message)
	}
}
