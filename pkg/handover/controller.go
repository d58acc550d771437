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

// Package handover implements the one-shot experimental gateway
// handover: when the second-registered gateway has received a
// configured number of frames, it is deactivated and its devices
// migrate, keys included, to the first-registered gateway.
package handover

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Edge2LoRa/e2l-as/pkg/directory"
	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

const (
	defaultRPCTimeout = 5 * time.Second
	pollInterval      = time.Second
)

// Controller watches the secondary gateway's receive counter and runs
// the migration once the threshold is crossed. It triggers at most once
// per process lifetime.
type Controller struct {
	mu        sync.Mutex
	dir       *directory.Store
	stats     *stats.Aggregator
	logger    logger.Logger
	threshold int64
	enabled   bool
	done      bool
	timeout   time.Duration
}

// NewController builds the controller from the handover configuration.
// The threshold is deviceCount * packetCount / divisor; any value that
// does not parse as a positive integer disables the feature.
func NewController(dir *directory.Store, agg *stats.Aggregator, cfg models.HandoverConfig, log logger.Logger) *Controller {
	c := &Controller{
		dir:     dir,
		stats:   agg,
		logger:  log,
		timeout: defaultRPCTimeout,
	}

	if !cfg.Enabled {
		return c
	}

	deviceCount, err1 := strconv.ParseInt(cfg.DeviceCount, 10, 64)
	packetCount, err2 := strconv.ParseInt(cfg.PacketCount, 10, 64)
	divisor, err3 := strconv.ParseInt(cfg.Divisor, 10, 64)

	if err1 != nil || err2 != nil || err3 != nil || deviceCount <= 0 || packetCount <= 0 || divisor <= 0 {
		log.Warn().
			Str("device_count", cfg.DeviceCount).
			Str("packet_count", cfg.PacketCount).
			Str("divisor", cfg.Divisor).
			Msg("Handover parameters not usable, handover disabled")

		return c
	}

	c.enabled = true
	c.threshold = deviceCount * packetCount / divisor

	log.Info().Int64("threshold", c.threshold).Msg("Handover armed")

	return c
}

// Enabled reports whether the controller is armed.
func (c *Controller) Enabled() bool {
	return c.enabled
}

// Run polls the secondary gateway's counter until the handover fires or
// the context ends.
func (c *Controller) Run(ctx context.Context) error {
	if !c.enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one threshold evaluation. Safe to call from the ingestion
// path as well as the polling loop; a completed or in-flight handover
// makes it a no-op.
func (c *Controller) Check(ctx context.Context) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}

	secondary, ok := c.dir.GatewayAt(1)
	if !ok || c.stats.GatewayRx(secondary.ID) < c.threshold {
		c.mu.Unlock()
		return
	}

	// Claim the trigger before releasing the lock so a concurrent
	// Check cannot start a second migration.
	c.done = true
	c.mu.Unlock()

	if err := c.migrate(ctx, secondary); err != nil {
		c.logger.Error().Err(err).Str("gw_id", secondary.ID).Msg("Handover failed")

		c.mu.Lock()
		c.done = false
		c.mu.Unlock()
	}
}

// migrate deactivates the secondary gateway and moves its devices to
// the first-registered gateway. The directory is mutated only after
// both gateway calls succeed, so a failed handover leaves routing
// unchanged and the trigger re-arms.
func (c *Controller) migrate(ctx context.Context, secondary directory.GatewayRecord) error {
	primary, ok := c.dir.GatewayAt(0)
	if !ok {
		return directory.ErrUnknownGateway
	}

	devices := c.dir.DevicesAssignedTo(secondary.ID)

	c.logger.Info().
		Str("from_gw_id", secondary.ID).
		Str("to_gw_id", primary.ID).
		Int("devices", len(devices)).
		Msg("Handover threshold reached, migrating devices")

	deactivateCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := secondary.Client.SetActive(deactivateCtx, false)

	cancel()

	if err != nil {
		return err
	}

	list := &models.GatewayDeviceList{Devices: make([]models.GatewayDevice, 0, len(devices))}
	for i := range devices {
		list.Devices = append(list.Devices, models.GatewayDevice{
			DevEUI:   devices[i].DevEUI,
			DevAddr:  devices[i].DevAddr,
			Assigned: true,
			IntKey:   append([]byte(nil), devices[i].IntKey...),
			EncKey:   append([]byte(nil), devices[i].EncKey...),
		})
	}

	addCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err = primary.Client.AddDevices(addCtx, list)

	cancel()

	if err != nil {
		return err
	}

	if err := c.dir.SetGatewayActive(secondary.ID, false); err != nil {
		return err
	}

	for i := range devices {
		if err := c.dir.SetAssignedGateway(devices[i].DevEUI, primary.ID); err != nil {
			c.logger.Warn().Err(err).Str("dev_eui", devices[i].DevEUI).Msg("Failed to re-route device after handover")
		}
	}

	c.logger.Info().Str("gw_id", secondary.ID).Msg("Handover complete")

	return nil
}
