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

package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/Edge2LoRa/e2l-as/pkg/logger"
	"github.com/Edge2LoRa/e2l-as/pkg/models"
	"github.com/Edge2LoRa/e2l-as/pkg/stats"
)

const busReconnectWait = 2 * time.Second

// ConnectBus establishes the NATS connection shared by the feeds and
// the publisher. The connection reconnects indefinitely.
func ConnectBus(cfg models.BusConfig, log logger.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("e2l-sink"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(busReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Bus disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Bus reconnected")
		}),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}

	return conn, nil
}

// BusPublisher publishes sink-originated messages: downlink commands
// toward the network server and legacy uplinks re-routed to their
// assigned gateway.
type BusPublisher struct {
	conn          *nats.Conn
	stats         *stats.Aggregator
	downlinkTopic string // may contain %s for the device id
	gatewayInput  string // subject prefix for per-gateway legacy input
	logger        logger.Logger
}

// NewBusPublisher creates the publisher.
func NewBusPublisher(conn *nats.Conn, agg *stats.Aggregator, downlinkTopic, gatewayInput string, log logger.Logger) *BusPublisher {
	return &BusPublisher{
		conn:          conn,
		stats:         agg,
		downlinkTopic: downlinkTopic,
		gatewayInput:  gatewayInput,
		logger:        log,
	}
}

// SendDownlink schedules a downlink for a device via the network
// server and counts it as network-server transmit traffic.
func (p *BusPublisher) SendDownlink(_ context.Context, devID string, envelope *models.DownlinkEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode downlink: %w", err)
	}

	subject := p.downlinkTopic
	if strings.Contains(subject, "%s") {
		subject = fmt.Sprintf(subject, devID)
	} else {
		subject = subject + "." + devID
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish downlink: %w", err)
	}

	p.stats.RecordNetworkTx()

	p.logger.Debug().Str("dev_id", devID).Str("subject", subject).Msg("Downlink scheduled")

	return nil
}

// ForwardLegacy republishes a legacy uplink on the assigned gateway's
// input subject.
func (p *BusPublisher) ForwardLegacy(_ context.Context, gatewayID string, event *models.UplinkEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode legacy frame: %w", err)
	}

	subject := p.gatewayInput + "." + gatewayID

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish legacy frame: %w", err)
	}

	return nil
}
