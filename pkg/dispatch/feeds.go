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
	"strings"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// feedBuffer bounds each feed's in-flight backlog. Consumption is
// decoupled from delivery so a slow gateway RPC cannot stall the bus
// subscription.
const feedBuffer = 256

// FeedConfig names the bus subjects the dispatcher consumes.
type FeedConfig struct {
	UplinkTopic string
	JoinTopic   string
	GatewayFeed string // subject prefix, messages arrive on <prefix>.<gw_id>.<kind>
}

// Run subscribes both feeds and processes messages until the context
// ends. Each feed has its own worker so gateway telemetry cannot starve
// the uplink path.
func (d *Dispatcher) Run(ctx context.Context, conn *nats.Conn, cfg FeedConfig) error {
	uplinks := make(chan *nats.Msg, feedBuffer)
	telemetry := make(chan *nats.Msg, feedBuffer)

	uplinkSub, err := conn.ChanSubscribe(cfg.UplinkTopic, uplinks)
	if err != nil {
		return err
	}
	defer func() { _ = uplinkSub.Unsubscribe() }()

	if cfg.JoinTopic != "" && cfg.JoinTopic != cfg.UplinkTopic {
		joinSub, err := conn.ChanSubscribe(cfg.JoinTopic, uplinks)
		if err != nil {
			return err
		}
		defer func() { _ = joinSub.Unsubscribe() }()
	}

	gatewaySub, err := conn.ChanSubscribe(cfg.GatewayFeed+".>", telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = gatewaySub.Unsubscribe() }()

	d.logger.Info().
		Str("uplink_topic", cfg.UplinkTopic).
		Str("gateway_feed", cfg.GatewayFeed).
		Msg("Feed subscriptions established")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg := <-uplinks:
				d.HandleUplink(ctx, msg.Data)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg := <-telemetry:
				d.HandleGatewayMessage(ctx, subjectKind(msg.Subject), msg.Data)
			}
		}
	})

	return g.Wait()
}

// subjectKind extracts the trailing token of a gateway feed subject.
func subjectKind(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}

	return subject
}
